// Package storage reads input objects and writes artifacts to buckets.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

// ContentTypeCSV is the content type of both artifacts
const ContentTypeCSV = "text/csv"

var (
	// ErrObjectNotFound is returned when a key does not exist
	ErrObjectNotFound = errors.New("object not found")
	// ErrLengthMismatch is returned when a body does not match its declared length
	ErrLengthMismatch = errors.New("object length does not match content length")
	// ErrInvalidKey is returned for empty keys and keys escaping the bucket
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectMetadata travels with every written object
type ObjectMetadata struct {
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length"`
}

// Bucket is a flat key/value object store
type Bucket interface {
	Name() string
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, meta ObjectMetadata) error
	Head(ctx context.Context, key string) (ObjectMetadata, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// CSVObject builds the body and metadata for a CSV artifact
func CSVObject(content string) (io.Reader, ObjectMetadata) {
	data := []byte(content)
	return bytes.NewReader(data), ObjectMetadata{
		ContentType:   ContentTypeCSV,
		ContentLength: int64(len(data)),
	}
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// readExactly reads body and checks it against the declared length
func readExactly(body io.Reader, length int64) ([]byte, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, length, len(data))
	}
	return data, nil
}

type memObject struct {
	data []byte
	meta ObjectMetadata
}

// MemoryBucket keeps objects in memory
type MemoryBucket struct {
	name    string
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemoryBucket creates an empty in-memory bucket
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{name: name, objects: make(map[string]memObject)}
}

// Name returns the bucket name
func (b *MemoryBucket) Name() string { return b.name }

// Get returns the object body
func (b *MemoryBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Put stores the object
func (b *MemoryBucket) Put(ctx context.Context, key string, body io.Reader, meta ObjectMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := readExactly(body, meta.ContentLength)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[key] = memObject{data: data, meta: meta}
	b.mu.Unlock()
	return nil
}

// Head returns the object metadata
func (b *MemoryBucket) Head(_ context.Context, key string) (ObjectMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return ObjectMetadata{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	return obj.meta, nil
}

// List returns the keys under prefix in lexical order
func (b *MemoryBucket) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object
func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

// PutString is a convenience for seeding objects
func (b *MemoryBucket) PutString(key, content string) error {
	body, meta := CSVObject(content)
	return b.Put(context.Background(), key, body, meta)
}

// Contents returns the stored body of key as a string
func (b *MemoryBucket) Contents(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	return string(obj.data), ok
}
