// Package fetch pulls candidate tickets from the tracker through a bounded
// worker pool, normalizes each one exactly once, and retries transient
// failures with a fixed backoff schedule.
package fetch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	errs "github.com/tareqmamari/inc-correlator/internal/errors"
	"github.com/tareqmamari/inc-correlator/internal/extract"
	"github.com/tareqmamari/inc-correlator/internal/metrics"
	"github.com/tareqmamari/inc-correlator/internal/ticket"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

const maxAttempts = 3

// Source is the tracker surface the pool reads from.
type Source interface {
	Issue(ctx context.Context, key string) (*tracker.RawIssue, error)
	Comments(ctx context.Context, key string) ([]tracker.RawComment, error)
}

// Progress reports completed keys out of the total. done counts every key
// with a terminal outcome, success or failure.
type Progress func(done, total int)

// Result is the outcome of one pool run.
type Result struct {
	// Tickets holds the successfully fetched and normalized tickets,
	// ordered by issue key.
	Tickets []*ticket.Ticket
	// Errors maps failed keys to their final error.
	Errors map[string]error
}

// Pool fetches and normalizes tickets with bounded concurrency.
type Pool struct {
	source      Source
	normalizer  *extract.Normalizer
	metrics     *metrics.Metrics
	logger      *zap.Logger
	concurrency int

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pool. Concurrency below 1 falls back to 1.
func New(source Source, normalizer *extract.Normalizer, m *metrics.Metrics, logger *zap.Logger, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		source:      source,
		normalizer:  normalizer,
		metrics:     m,
		logger:      logger,
		concurrency: concurrency,
		sleep:       sleepCtx,
	}
}

// Fetch pulls every key through the pool. Worker count is the smaller of the
// configured concurrency and the number of keys. Each key is normalized at
// most once; per-key failures never abort the run. Cancellation stops new
// work and interrupts backoff sleeps.
func (p *Pool) Fetch(ctx context.Context, keys []string, progress Progress) *Result {
	result := &Result{
		Tickets: make([]*ticket.Ticket, 0, len(keys)),
		Errors:  make(map[string]error),
	}
	total := len(keys)
	if total == 0 {
		return result
	}

	workers := p.concurrency
	if total < workers {
		workers = total
	}

	work := make(chan string)
	var mu sync.Mutex
	done := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range work {
				t, err := p.fetchOne(ctx, key)

				mu.Lock()
				done++
				if err != nil {
					result.Errors[key] = err
				} else {
					result.Tickets = append(result.Tickets, t)
				}
				current := done
				mu.Unlock()

				if progress != nil {
					progress(current, total)
				}
			}
		}()
	}

dispatch:
	for _, key := range keys {
		select {
		case work <- key:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	sort.Slice(result.Tickets, func(i, j int) bool {
		return result.Tickets[i].Key < result.Tickets[j].Key
	})

	p.logger.Info("Fetch pool finished",
		zap.Int("requested", total),
		zap.Int("fetched", len(result.Tickets)),
		zap.Int("failed", len(result.Errors)),
	)
	return result
}

// fetchOne fetches and normalizes a single ticket with up to three attempts.
// Rate-limit errors back off 2s, 4s; other errors 2s, 4s linearly. A failed
// comment fetch degrades to an empty comment list rather than failing the
// key.
func (p *Pool) fetchOne(ctx context.Context, key string) (*ticket.Ticket, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}

		issue, err := p.source.Issue(ctx, key)
		if err == nil {
			comments, cerr := p.source.Comments(ctx, key)
			if cerr != nil {
				p.logger.Warn("Comment fetch failed, continuing without comments",
					zap.String("key", key),
					zap.Error(cerr),
				)
				comments = nil
			}
			return p.normalizer.Normalize(issue, comments), nil
		}
		lastErr = err

		if !errs.IsRetryable(err) {
			break
		}
		if attempt == maxAttempts {
			break
		}

		var backoff time.Duration
		if errs.IsRateLimit(err) {
			if p.metrics != nil {
				p.metrics.RecordRateLimitHit()
			}
			backoff = 2 * time.Second << (attempt - 1)
		} else {
			backoff = 2 * time.Second * time.Duration(attempt)
		}

		if p.metrics != nil {
			p.metrics.RecordRetry()
		}
		p.logger.Warn("Retrying ticket fetch",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		if serr := p.sleep(ctx, backoff); serr != nil {
			return nil, lastErr
		}
	}

	p.logger.Error("Ticket fetch failed",
		zap.String("key", key),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
