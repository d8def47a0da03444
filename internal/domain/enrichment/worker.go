package enrichment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
	"github.com/FACorreiaa/loci-heritage-api/pkg/observability"
)

type Processor interface {
	Process(ctx context.Context, job types.EnrichmentJob) Step
}

type MissingMediaFinder interface {
	FindMissingMedia(ctx context.Context, limit int) ([]types.Location, error)
}

// Worker owns the enrichment queue. Enqueue is safe from any goroutine;
// Run must be called once and drains the queue until its context ends.
type Worker struct {
	cfg       config.EnrichmentConfig
	processor Processor
	finder    MissingMediaFinder
	logger    *slog.Logger

	jobs     chan types.EnrichmentJob
	mu       sync.Mutex
	inFlight map[string]struct{}
	cooldown *gocache.Cache
}

func NewWorker(cfg config.EnrichmentConfig, processor Processor, finder MissingMediaFinder, logger *slog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &Worker{
		cfg:       cfg,
		processor: processor,
		finder:    finder,
		logger:    logger.With(slog.String("component", "enrichment_worker")),
		jobs:      make(chan types.EnrichmentJob, cfg.QueueSize),
		inFlight:  make(map[string]struct{}),
		cooldown:  gocache.New(cfg.RetryCooldown, 10*time.Minute),
	}
}

func jobKey(job types.EnrichmentJob) string {
	return textnorm.Fold(job.Name)
}

// Enqueue offers jobs to the queue without blocking and returns how many
// were accepted. Names already queued, being processed or cooling down
// after a fruitless pass are skipped; a full queue drops the job.
func (w *Worker) Enqueue(jobs ...types.EnrichmentJob) int {
	accepted := 0
	for _, job := range jobs {
		key := jobKey(job)
		if key == "" {
			continue
		}
		if _, cooling := w.cooldown.Get(key); cooling {
			continue
		}

		w.mu.Lock()
		if _, busy := w.inFlight[key]; busy {
			w.mu.Unlock()
			continue
		}
		w.inFlight[key] = struct{}{}
		w.mu.Unlock()

		select {
		case w.jobs <- job:
			accepted++
		default:
			w.release(key)
			observability.EnrichmentDropped.Inc()
			w.logger.Debug("Enrichment queue full, dropping job", slog.String("name", job.Name))
		}
	}
	observability.EnrichmentQueueDepth.Set(float64(len(w.jobs)))
	return accepted
}

func (w *Worker) release(key string) {
	w.mu.Lock()
	delete(w.inFlight, key)
	w.mu.Unlock()
}

// Run dispatches queued jobs in batches and periodically re-enqueues
// records that still lack media. It returns when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	l := w.logger.With(slog.String("method", "Run"))
	l.InfoContext(ctx, "Enrichment worker started",
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Duration("batch_delay", w.cfg.BatchDelay),
		slog.Duration("sweep_interval", w.cfg.SweepInterval))

	var sweep <-chan time.Time
	if w.cfg.SweepInterval > 0 {
		t := time.NewTicker(w.cfg.SweepInterval)
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-ctx.Done():
			l.InfoContext(ctx, "Enrichment worker stopped")
			return
		case <-sweep:
			w.Sweep(ctx)
		case job := <-w.jobs:
			w.processBatch(ctx, w.fill(job))
			observability.EnrichmentQueueDepth.Set(float64(len(w.jobs)))
			if !sleep(ctx, w.cfg.BatchDelay) {
				l.InfoContext(ctx, "Enrichment worker stopped")
				return
			}
		}
	}
}

// fill tops the batch up with whatever is already queued.
func (w *Worker) fill(first types.EnrichmentJob) []types.EnrichmentJob {
	batch := []types.EnrichmentJob{first}
	for len(batch) < w.cfg.BatchSize {
		select {
		case job := <-w.jobs:
			batch = append(batch, job)
		default:
			return batch
		}
	}
	return batch
}

func (w *Worker) processBatch(ctx context.Context, batch []types.EnrichmentJob) {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range batch {
		g.Go(func() error {
			step := w.processor.Process(gctx, job)
			w.finish(job, step)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) finish(job types.EnrichmentJob, step Step) {
	key := jobKey(job)
	if step.Retry() && w.cfg.RetryCooldown > 0 {
		w.cooldown.Set(key, struct{}{}, w.cfg.RetryCooldown)
	}
	w.release(key)
}

// Sweep enqueues stored records that still have no media. It returns the
// number of jobs accepted.
func (w *Worker) Sweep(ctx context.Context) int {
	l := w.logger.With(slog.String("method", "Sweep"))

	missing, err := w.finder.FindMissingMedia(ctx, w.cfg.SweepLimit)
	if err != nil {
		l.WarnContext(ctx, "Failed to list locations without media", slog.Any("error", err))
		return 0
	}

	jobs := make([]types.EnrichmentJob, 0, len(missing))
	for _, loc := range missing {
		jobs = append(jobs, loc.EnrichmentJob())
	}
	accepted := w.Enqueue(jobs...)
	l.InfoContext(ctx, "Sweep enqueued locations without media", slog.Int("found", len(missing)), slog.Int("accepted", accepted))
	return accepted
}

// Backfill processes up to limit records lacking media synchronously,
// in batches, and returns a count per winning step.
func (w *Worker) Backfill(ctx context.Context, limit int) (map[Step]int, error) {
	missing, err := w.finder.FindMissingMedia(ctx, limit)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	counts := make(map[Step]int)
	for start := 0; start < len(missing); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(missing))

		g, gctx := errgroup.WithContext(ctx)
		for _, loc := range missing[start:end] {
			g.Go(func() error {
				step := w.processor.Process(gctx, loc.EnrichmentJob())
				mu.Lock()
				counts[step]++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end < len(missing) && !sleep(ctx, w.cfg.BatchDelay) {
			return counts, ctx.Err()
		}
	}
	return counts, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
