// Package resolver maps device MAC addresses to model slots, claiming an
// available slot the first time a MAC is seen.
package resolver

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"battery_dashboard_etl/logger"
	"battery_dashboard_etl/metrics"
	"battery_dashboard_etl/modelpool"
)

// Binding is the model a MAC resolved to
type Binding struct {
	ID   uint
	Name string
}

// Resolver is owned by a single run. It is not safe for concurrent use.
type Resolver struct {
	pool    modelpool.Pool
	rng     *rand.Rand
	metrics *metrics.Recorder

	// snapshot of unassigned models taken once per run, ids kept sorted so a
	// seeded rng picks reproducibly
	available map[uint]string
	ids       []uint
	loaded    bool

	known map[string]Binding
}

// Option configures a Resolver
type Option func(*Resolver)

// WithRand sets the source used to pick among available models
func WithRand(rng *rand.Rand) Option {
	return func(r *Resolver) { r.rng = rng }
}

// WithMetrics sets the recorder for claim outcomes
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a resolver for one run
func New(pool modelpool.Pool, opts ...Option) *Resolver {
	seed := uint64(time.Now().UnixNano())
	r := &Resolver{
		pool:      pool,
		rng:       rand.New(rand.NewPCG(seed, seed>>1|1)),
		available: make(map[uint]string),
		known:     make(map[string]Binding),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load takes the snapshot of unassigned models. An unreachable store is
// logged and leaves the snapshot empty, so only already bound MACs resolve.
// Load only queries the store on its first call.
func (r *Resolver) Load(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true

	available, err := r.pool.ListAvailable(ctx)
	if err != nil {
		logger.Warnf("Could not load available models, new devices will not be mapped this run: %v\n", err)
		available = nil
	}

	r.available = make(map[uint]string, len(available))
	r.ids = r.ids[:0]
	for id, name := range available {
		r.available[id] = name
		r.ids = append(r.ids, id)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })

	r.metrics.SetPoolSize(len(r.ids))
	logger.Printf("Loaded %d available model(s)\n", len(r.ids))
}

// Available returns the number of models still unclaimed in the snapshot
func (r *Resolver) Available() int {
	return len(r.ids)
}

// Resolve returns the model bound to mac. A nil binding with a nil error
// means the MAC is unmapped: no slot was free or the claim lost a race.
// Errors are store failures.
func (r *Resolver) Resolve(ctx context.Context, mac string) (*Binding, error) {
	if b, ok := r.known[mac]; ok {
		return &b, nil
	}

	model, err := r.pool.FindByMac(ctx, mac)
	if err != nil {
		return nil, err
	}
	if model != nil {
		b := Binding{ID: model.ID, Name: model.Name}
		r.known[mac] = b
		return &b, nil
	}

	r.Load(ctx)
	if len(r.ids) == 0 {
		logger.Debugf("No available model for mac %s, rows dropped\n", mac)
		return nil, nil
	}

	idx := r.rng.IntN(len(r.ids))
	id := r.ids[idx]
	name := r.available[id]

	ok, err := r.pool.TryBindMac(ctx, id, mac)
	if err != nil {
		r.metrics.IncBinding(metrics.BindError)
		return nil, err
	}
	if !ok {
		// stale snapshot: another run claimed the model first. The row is
		// dropped without a retry and the id is not offered again.
		r.forget(idx)
		r.metrics.IncBinding(metrics.BindConflict)
		logger.Warnf("Model %d (%s) already has a MAC, could not bind %s\n", id, name, mac)
		return nil, nil
	}

	r.forget(idx)
	r.metrics.IncBinding(metrics.BindBound)
	logger.Printf("New MAC %s bound to model %s (id %d)\n", mac, name, id)

	b := Binding{ID: id, Name: name}
	r.known[mac] = b
	return &b, nil
}

func (r *Resolver) forget(idx int) {
	delete(r.available, r.ids[idx])
	r.ids = append(r.ids[:idx], r.ids[idx+1:]...)
}
