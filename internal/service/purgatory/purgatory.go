// Package purgatory expires finished job records. Every terminal commit is
// registered here; after the retention interval a background reaper deletes
// the record from the store and its artifacts from the object store.
package purgatory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zksmith/contract-worker/internal/adapter/observability"
	"github.com/zksmith/contract-worker/internal/domain"
)

type entry struct {
	id        string
	expiresAt time.Time
}

// Purgatory tracks finished jobs until their retention window lapses. The
// reaper goroutine is spawned at construction and stopped by Stop; the
// in-memory state sits behind a mutex whose critical sections never span a
// remote call.
type Purgatory struct {
	records   domain.RecordStore
	blobs     domain.ObjectStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries []entry
	results map[string]domain.TaskResult

	cancel context.CancelFunc
	done   chan struct{}
}

// Config tunes one Purgatory.
type Config struct {
	// Retention is how long terminal records survive. Default 24h.
	Retention time.Duration
	// SweepInterval is the reaper tick. Default 5s.
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// New builds the purgatory, seeds it from the store, and spawns the reaper.
func New(ctx context.Context, records domain.RecordStore, blobs domain.ObjectStore, cfg Config) (*Purgatory, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Purgatory{
		records:   records,
		blobs:     blobs,
		retention: cfg.Retention,
		interval:  cfg.SweepInterval,
		logger:    cfg.Logger.With(slog.String("component", "purgatory")),
		now:       time.Now,
		results:   make(map[string]domain.TaskResult),
		done:      make(chan struct{}),
	}
	if err := p.bootstrap(ctx); err != nil {
		return nil, err
	}
	reapCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(reapCtx)
	return p, nil
}

// Stop cancels the reaper and waits for it to exit.
func (p *Purgatory) Stop() {
	p.cancel()
	<-p.done
}

// bootstrap seeds the expiration list from records already in the store, so
// a restart still reaps jobs finished by a previous process. Seeded entries
// expire at created_at + retention, same as live ones.
func (p *Purgatory) bootstrap(ctx context.Context) error {
	cursor := ""
	seeded := 0
	for {
		page, err := p.records.ScanPriorTo(ctx, p.now(), cursor)
		if err != nil {
			return err
		}
		p.mu.Lock()
		for _, rec := range page.Records {
			p.entries = append(p.entries, entry{id: rec.ID, expiresAt: rec.CreatedAt.Add(p.retention)})
			if rec.Result != nil {
				p.results[rec.ID] = *rec.Result
			}
			seeded++
		}
		observability.PurgatoryRecords.Set(float64(len(p.entries)))
		p.mu.Unlock()
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if seeded > 0 {
		p.logger.Info("seeded expiration list from store", slog.Int("records", seeded))
	}
	return nil
}

// AddRecord registers a job whose terminal result was just committed. It
// expires retention from now.
func (p *Purgatory) AddRecord(id string, result domain.TaskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry{id: id, expiresAt: p.now().Add(p.retention)})
	p.results[id] = result
	observability.PurgatoryRecords.Set(float64(len(p.entries)))
}

// Result returns the in-memory terminal result for id, if still tracked.
func (p *Purgatory) Result(id string) (domain.TaskResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[id]
	return res, ok
}

// Len reports how many records are awaiting expiration.
func (p *Purgatory) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Purgatory) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep reaps every entry past its expiration: the record is deleted from
// the store and the artifact prefix from the object store. Failed deletions
// requeue for the next tick. Remote calls happen outside the mutex.
func (p *Purgatory) Sweep(ctx context.Context) {
	now := p.now()
	p.mu.Lock()
	var expired, live []entry
	for _, e := range p.entries {
		if e.expiresAt.Before(now) || e.expiresAt.Equal(now) {
			expired = append(expired, e)
		} else {
			live = append(live, e)
		}
	}
	p.entries = live
	p.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	var requeue []entry
	reaped := 0
	for _, e := range expired {
		if err := p.reap(ctx, e.id); err != nil {
			p.logger.Warn("reap failed, requeueing",
				slog.String("job_id", e.id), slog.Any("error", err))
			requeue = append(requeue, e)
			continue
		}
		reaped++
	}
	p.mu.Lock()
	p.entries = append(p.entries, requeue...)
	for _, e := range expired {
		requeued := false
		for _, r := range requeue {
			if r.id == e.id {
				requeued = true
				break
			}
		}
		if !requeued {
			delete(p.results, e.id)
		}
	}
	observability.PurgatoryRecords.Set(float64(len(p.entries)))
	p.mu.Unlock()
	if reaped > 0 {
		observability.PurgatoryReapedTotal.Add(float64(reaped))
		p.logger.Info("swept expired records", slog.Int("reaped", reaped), slog.Int("requeued", len(requeue)))
	}
}

func (p *Purgatory) reap(ctx context.Context, id string) error {
	if err := p.records.Delete(ctx, id); err != nil {
		return err
	}
	return p.blobs.DeletePrefix(ctx, domain.ArtifactPrefix(id))
}

// SweepStoreBefore force-reaps every stored record with CreatedAt on or
// before cutoff, paging the scan directly. Used by the purge CLI; it does
// not consult the in-memory list. Returns the number of records deleted.
func SweepStoreBefore(ctx context.Context, records domain.RecordStore, blobs domain.ObjectStore, cutoff time.Time, dryRun bool, logger *slog.Logger) (int, error) {
	deleted := 0
	cursor := ""
	for {
		page, err := records.ScanPriorTo(ctx, cutoff, cursor)
		if err != nil {
			return deleted, err
		}
		for _, rec := range page.Records {
			if dryRun {
				logger.Info("would reap", slog.String("job_id", rec.ID),
					slog.Time("created_at", rec.CreatedAt))
				deleted++
				continue
			}
			if err := records.Delete(ctx, rec.ID); err != nil {
				return deleted, err
			}
			if err := blobs.DeletePrefix(ctx, domain.ArtifactPrefix(rec.ID)); err != nil {
				return deleted, err
			}
			deleted++
		}
		if page.NextCursor == "" {
			return deleted, nil
		}
		cursor = page.NextCursor
	}
}
