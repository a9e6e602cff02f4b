package idempotency

import (
	"context"
	"sync"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/store"

	"github.com/bits-and-blooms/bloom/v3"
)

// Config controls the optional in-process prefilter.
type Config struct {
	// Filter enables the bloom prefilter. Without it every check queries the store.
	Filter bool

	// ExpectedItems sizes the filter
	ExpectedItems uint

	// FalsePositiveRate of the filter
	FalsePositiveRate float64
}

// DefaultConfig returns a registry config with the prefilter disabled.
func DefaultConfig() Config {
	return Config{
		Filter:            false,
		ExpectedItems:     100000,
		FalsePositiveRate: 0.01,
	}
}

// Registry decides whether an operation id was already applied.
//
// The processed_ops table is the source of truth. The bloom filter only answers
// "definitely never recorded here", which lets Seen skip the lookup. Ids committed
// by another process are still rejected by the table's primary key at record time.
type Registry struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	config Config

	lookups        uint64
	skipped        uint64
	falsePositives uint64
}

// New creates a registry.
func New(config Config) *Registry {
	if config.ExpectedItems == 0 {
		config.ExpectedItems = 100000
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = 0.01
	}

	r := &Registry{config: config}
	if config.Filter {
		r.filter = bloom.NewWithEstimates(config.ExpectedItems, config.FalsePositiveRate)
	}
	return r
}

// Seen reports whether id has been committed, reading through tx.
func (r *Registry) Seen(ctx context.Context, tx store.Tx, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if r.filter != nil {
		r.mu.Lock()
		r.lookups++
		if !r.filter.TestString(id) {
			r.skipped++
			r.mu.Unlock()
			return false, nil
		}
		r.mu.Unlock()
	} else {
		r.mu.Lock()
		r.lookups++
		r.mu.Unlock()
	}

	exists, err := tx.OperationExists(ctx, id)
	if err != nil {
		return false, err
	}

	if !exists && r.filter != nil {
		r.mu.Lock()
		r.falsePositives++
		r.mu.Unlock()
	}
	return exists, nil
}

// Record inserts id into processed_ops inside tx.
// Returns store.ErrOperationExists when a concurrent transaction got there first.
func (r *Registry) Record(ctx context.Context, tx store.Tx, id string, at time.Time) error {
	return tx.RecordOperation(ctx, ledger.ProcessedOperation{
		OperationID: id,
		CreatedAt:   at.UTC(),
	})
}

// Remember adds a committed id to the prefilter. Call it only after commit.
func (r *Registry) Remember(id string) {
	if r.filter == nil {
		return
	}
	r.mu.Lock()
	r.filter.AddString(id)
	r.mu.Unlock()
}

// Warm loads every committed id into the prefilter.
func (r *Registry) Warm(ctx context.Context, s store.Store) (int, error) {
	if r.filter == nil {
		return 0, nil
	}

	count := 0
	err := s.ScanOperationIDs(ctx, func(id string) error {
		r.Remember(id)
		count++
		return nil
	})
	return count, err
}

// Filtered reports whether the prefilter is enabled.
func (r *Registry) Filtered() bool {
	return r.filter != nil
}

// Stats returns lookup statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Lookups:        r.lookups,
		Skipped:        r.skipped,
		FalsePositives: r.falsePositives,
	}
	if r.lookups > 0 {
		stats.SkipRate = float64(r.skipped) / float64(r.lookups)
	}
	if r.filter != nil {
		stats.FilterCapacity = r.filter.Cap()
	}
	return stats
}

// Stats holds registry counters.
type Stats struct {
	Lookups        uint64
	Skipped        uint64
	FalsePositives uint64
	SkipRate       float64
	FilterCapacity uint
}
