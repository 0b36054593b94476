package jobs

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler is the per-job-type processing function. Returning a nil error
// completes the job; a returned error is classified by the caller (see
// internal/errs) to decide retry vs terminal failure.
type Handler func(ctx context.Context, job *Job, payload Payload) error

// Registry maps job type to handler. Built by internal/jobs but populated
// by the handlers package at process startup (see Handler Registry &
// Chain Router collaborators in cmd/metarrd).
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

// Register binds a handler to a job type. Registering the same type twice
// is a programming error and panics at startup rather than silently
// shadowing a handler.
func (r *Registry) Register(typ Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("jobs: handler already registered for %q", typ))
	}
	r.handlers[typ] = h
}

func (r *Registry) lookup(typ Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Handler returns the registered handler for typ, if any. Exported mainly
// so handler-package tests can invoke a dispatch without standing up a
// full Pool.
func (r *Registry) Handler(typ Type) (Handler, bool) {
	return r.lookup(typ)
}

// Pool is a bounded set of P workers pulling claimable jobs and dispatching
// them to registered handlers, generalized from a single ticker-driven
// worker to P concurrent workers woken by a jittered poll timer or by a
// shared notification channel that NotifyInsert writes to. Store.Insert
// does not write to it: only the webhook and library-scan HTTP endpoints
// call NotifyInsert, so jobs inserted by handlers or the scheduler are
// picked up at the next poll.
type Pool struct {
	store    *Store
	registry *Registry

	workerCount   int
	pollInterval  time.Duration
	claimDeadline time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	notify chan struct{}
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*Pool)

// WithWorkerCount overrides the default of 4 workers.
func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) { p.workerCount = n }
}

// WithPollInterval overrides the default 300ms poll interval. An idle
// worker waits half the interval plus a random jitter below the full
// interval (150-450ms at the default).
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithClaimDeadline bounds how long shutdown waits for in-flight handlers
// before requeuing their jobs.
func WithClaimDeadline(d time.Duration) PoolOption {
	return func(p *Pool) { p.claimDeadline = d }
}

// NewPool constructs a worker pool over store, dispatching through registry.
func NewPool(store *Store, registry *Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		store:         store,
		registry:      registry,
		workerCount:   4,
		pollInterval:  300 * time.Millisecond,
		claimDeadline: 30 * time.Second,
		notify:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NotifyInsert wakes idle workers after a job has been inserted, rather
// than waiting for the next poll tick.
func (p *Pool) NotifyInsert() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutines. It returns immediately; call Stop
// (or cancel ctx) to shut down.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	log.Info().Int("workers", p.workerCount).Msg("worker pool started")

	for i := 0; i < p.workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.runWorker(ctx, workerID)
	}
}

// Stop signals all workers to drain and blocks until they exit or the
// claim deadline elapses, whichever comes first.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("worker pool stopped")
	case <-time.After(p.claimDeadline):
		log.Warn().Msg("worker pool stop deadline exceeded, workers may still be draining")
		// Whatever's still claimed/processing at this point has outlived
		// the deadline we gave it; requeue it for a worker to pick up
		// next run rather than stranding it mid-flight.
		if n, err := p.store.RequeueStale(0); err != nil {
			log.Error().Err(err).Msg("failed to requeue jobs exceeding the stop deadline")
		} else if n > 0 {
			log.Warn().Int64("count", n).Msg("requeued jobs exceeding the stop deadline")
		}
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		claimed, err := p.store.Claim(workerID, 1)
		if err != nil {
			log.Error().Err(err).Str("worker", workerID).Msg("claim failed")
			p.sleep(ctx)
			continue
		}
		if len(claimed) == 0 {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, claimed[0])
	}
}

func (p *Pool) sleep(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(p.pollInterval)))
	timer := time.NewTimer(p.pollInterval/2 + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-p.stopCh:
	case <-p.notify:
	case <-timer.C:
	}
}

func (p *Pool) process(ctx context.Context, job *Job) {
	logger := log.With().Int64("jobId", job.ID).Str("type", string(job.Type)).Logger()

	payload, err := DecodePayload(job.Type, job.Payload)
	if err != nil {
		logger.Error().Err(err).Msg("payload decode failed, failing job permanently")
		if failErr := p.store.Fail(job.ID, err, false); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to record decode failure")
		}
		return
	}

	handler, ok := p.registry.lookup(job.Type)
	if !ok {
		logger.Error().Msg("no handler registered for job type")
		_ = p.store.Fail(job.ID, fmt.Errorf("no handler for type %q", job.Type), false)
		return
	}

	if err := p.store.MarkProcessing(job.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark job processing")
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = p.invoke(handlerCtx, handler, job, payload)
	if err != nil {
		transient := true
		if k, ok := classifyErr(err); ok {
			transient = k.Transient()
		}
		logger.Debug().Err(err).Bool("transient", transient).Msg("handler returned error")
		if failErr := p.store.Fail(job.ID, err, transient); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to record handler failure")
		}
		return
	}

	if err := p.store.Complete(job.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark job completed")
	}
}

// invoke recovers a handler panic and treats it as a transient failure
// unless the handler explicitly marks it permanent.
func (p *Pool) invoke(ctx context.Context, h Handler, job *Job, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job, payload)
}
