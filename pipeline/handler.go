package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path"
	"time"

	"battery_dashboard_etl/logger"
	"battery_dashboard_etl/metrics"
	"battery_dashboard_etl/modelpool"
	"battery_dashboard_etl/resolver"
	"battery_dashboard_etl/storage"
)

// Artifact names under the destination prefix
const (
	DashboardFile = "dashboard_bateria.csv"
	HistoryFile   = "historico_leituras.csv"
)

// SuccessMessage is returned by Handle when both artifacts were written
const SuccessMessage = "Success: dashboard and history updated."

var (
	// ErrNoRecords is returned for an event that references no object
	ErrNoRecords = errors.New("event has no records")
	// ErrRunTimeout is returned when a run exceeds its deadline
	ErrRunTimeout = errors.New("run deadline exceeded")
	// ErrUnknownBucket is returned when an event names a bucket the handler does not read
	ErrUnknownBucket = errors.New("unknown source bucket")
)

// Handler is the process-wide entry point. It holds the shared model store
// and buckets; every call gets its own run state.
type Handler struct {
	pool     modelpool.Pool
	source   storage.Bucket
	dest     storage.Bucket
	prefix   string
	timeout  time.Duration
	metrics  *metrics.Recorder
	textfile string
	newRand  func() *rand.Rand
}

// HandlerConfig wires a Handler
type HandlerConfig struct {
	Pool              modelpool.Pool
	Source            storage.Bucket
	Destination       storage.Bucket
	DestinationPrefix string
	RunTimeout        time.Duration
	Metrics           *metrics.Recorder
	MetricsTextfile   string
	// NewRand, when set, supplies the random source of each run
	NewRand func() *rand.Rand
}

// NewHandler creates a handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		pool:     cfg.Pool,
		source:   cfg.Source,
		dest:     cfg.Destination,
		prefix:   cfg.DestinationPrefix,
		timeout:  cfg.RunTimeout,
		metrics:  cfg.Metrics,
		textfile: cfg.MetricsTextfile,
		newRand:  cfg.NewRand,
	}
}

// Handle processes the first object referenced by ev. Further records are
// ignored.
func (h *Handler) Handle(ctx context.Context, ev Event) (string, error) {
	if len(ev.Records) == 0 {
		return "", ErrNoRecords
	}
	if len(ev.Records) > 1 {
		logger.Warnf("Event has %d records, only the first is processed\n", len(ev.Records))
	}

	rec := ev.Records[0]
	if name := rec.S3.Bucket.Name; name != "" && name != h.source.Name() {
		return "", fmt.Errorf("%w: %s", ErrUnknownBucket, name)
	}

	if _, err := h.Process(ctx, rec.ObjectKey()); err != nil {
		return "", err
	}
	return SuccessMessage, nil
}

// Process runs the pipeline over one source object and writes both
// artifacts. Nothing is written if the run fails.
func (h *Handler) Process(ctx context.Context, key string) (*Result, error) {
	start := time.Now()
	res, err := h.process(ctx, key)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		logger.Errorf("Fatal error processing %s: %v\n", key, err)
	}
	h.metrics.ObserveRun(result, time.Since(start))
	if werr := h.metrics.WriteTextfile(h.textfile); werr != nil {
		logger.Warnf("Could not write metrics textfile: %v\n", werr)
	}
	return res, err
}

func (h *Handler) process(ctx context.Context, key string) (*Result, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	logger.Printf("Processing object: %s/%s\n", h.source.Name(), key)

	body, err := h.source.Get(ctx, key)
	if err != nil {
		return nil, h.fatal(ctx, fmt.Errorf("failed to read input object: %w", err))
	}
	defer body.Close()

	opts := []resolver.Option{resolver.WithMetrics(h.metrics)}
	if h.newRand != nil {
		opts = append(opts, resolver.WithRand(h.newRand()))
	}
	run := NewIngest(resolver.New(h.pool, opts...), h.metrics)

	res, err := run.Run(ctx, body)
	if err != nil {
		return nil, h.fatal(ctx, err)
	}
	res.Key = key

	logger.Printf("Read %d line(s): %d accepted, %d short, %d unmapped, %d malformed\n",
		res.Lines, res.Accepted, res.Short, res.Unmapped, res.Malformed)

	if err := ctx.Err(); err != nil {
		return nil, h.fatal(ctx, err)
	}

	if err := h.write(ctx, DashboardFile, res.Dashboard); err != nil {
		return nil, h.fatal(ctx, err)
	}
	if err := h.write(ctx, HistoryFile, res.History); err != nil {
		h.discard(DashboardFile)
		return nil, h.fatal(ctx, err)
	}

	return res, nil
}

func (h *Handler) write(ctx context.Context, name, content string) error {
	key := path.Join(h.prefix, name)
	body, meta := storage.CSVObject(content)
	if err := h.dest.Put(ctx, key, body, meta); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	logger.LogResult("Upload", true, h.dest.Name()+"/"+key)
	return nil
}

// discard removes an artifact written earlier in a failed run. It uses a
// fresh context because the run's own may already be expired.
func (h *Handler) discard(name string) {
	key := path.Join(h.prefix, name)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.dest.Delete(ctx, key); err != nil {
		logger.Errorf("Could not remove partial artifact %s: %v\n", key, err)
		return
	}
	logger.LogResult("Rollback", true, h.dest.Name()+"/"+key)
}

// fatal tags deadline expiry so callers can tell it apart
func (h *Handler) fatal(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %v", ErrRunTimeout, h.timeout, err)
	}
	return err
}
