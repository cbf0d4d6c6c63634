package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const metaSuffix = ".meta.json"

// DirBucket is a bucket backed by a local directory. Keys map to paths
// under the root; metadata is kept in a sidecar file next to each object.
type DirBucket struct {
	name string
	root string
}

// NewDirBucket creates the root directory if needed
func NewDirBucket(name, root string) (*DirBucket, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory %s: %w", root, err)
	}
	return &DirBucket{name: name, root: root}, nil
}

// Name returns the bucket name
func (b *DirBucket) Name() string { return b.name }

func (b *DirBucket) path(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

// Get opens the object for reading
func (b *DirBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// Put writes the object through a temporary file so readers never see a
// partial artifact.
func (b *DirBucket) Put(ctx context.Context, key string, body io.Reader, meta ObjectMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := b.path(key)
	if err != nil {
		return err
	}
	data, err := readExactly(body, meta.ContentLength)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := writeAtomic(p, data); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := writeAtomic(p+metaSuffix, metaJSON); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", key, err)
	}
	return nil
}

func writeAtomic(p string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-"+filepath.Base(p)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Head reads the sidecar metadata. Objects placed in the directory by other
// tools have no sidecar; their metadata is derived from the file.
func (b *DirBucket) Head(_ context.Context, key string) (ObjectMetadata, error) {
	p, err := b.path(key)
	if err != nil {
		return ObjectMetadata{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectMetadata{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	if err != nil {
		return ObjectMetadata{}, err
	}

	raw, err := os.ReadFile(p + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectMetadata{ContentLength: info.Size()}, nil
	}
	if err != nil {
		return ObjectMetadata{}, err
	}
	var meta ObjectMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to decode metadata for %s: %w", key, err)
	}
	return meta, nil
}

// List returns object keys under prefix in lexical order
func (b *DirBucket) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", b.name, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object and its metadata sidecar
func (b *DirBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := b.path(key)
	if err != nil {
		return err
	}
	for _, name := range []string{p, p + metaSuffix} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
	}
	return nil
}
