// Package engine implements the genesis distribution engine: task and batch queues,
// the batch processing loop, vesting and approval bookkeeping, and aggregate metrics.
package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/tburn-genesis-engine/internal/aggregate"
	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/circuitbreaker"
	"github.com/yourorg/tburn-genesis-engine/internal/events"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	tburnotel "github.com/yourorg/tburn-genesis-engine/internal/otel"
	"github.com/yourorg/tburn-genesis-engine/internal/queue"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// Sentinel errors returned by engine commands
var (
	ErrAlreadyInitialized = errors.New("genesis distribution already initialized")
	ErrBatchNotFound      = errors.New("batch not found")
	ErrBatchNotQueued     = errors.New("batch is not waiting in the queue")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotPending     = errors.New("task is not pending")
	ErrNoPendingTasks     = errors.New("no pending tasks")
	ErrInvalidTask        = errors.New("invalid distribution task")
)

const (
	latencyHistorySize = 1000
	throughputWindow   = 5 * time.Second
)

// Config bounds the processing loop
type Config struct {
	MaxConcurrentBatches    int
	ProcessingInterval      time.Duration
	BatchTimeout            time.Duration // zero disables the per-batch deadline
	MaxRetries              int           // recorded on tasks; no retry loop consumes it
	CircuitFailureThreshold int
	CircuitResetDelay       time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBatches:    8,
		ProcessingInterval:      100 * time.Millisecond,
		BatchTimeout:            5 * time.Minute,
		MaxRetries:              3,
		CircuitFailureThreshold: 5,
		CircuitResetDelay:       30 * time.Second,
	}
}

type categoryState struct {
	percentage       float64
	totalWei         *big.Int
	tasks            int
	vestingSchedules int
}

// Engine owns every task, batch, schedule and approval request.
// A single mutex guards all of them; executor calls run outside it.
type Engine struct {
	cfg Config

	mu               sync.Mutex
	tasks            map[string]*model.DistributionTask
	taskQueue        *queue.PriorityQueue[*model.DistributionTask]
	batchQueue       *queue.PriorityQueue[*model.DistributionBatch]
	batches          map[string]*model.DistributionBatch
	activeBatches    map[string]*model.DistributionBatch
	heldBatches      map[string]*model.DistributionBatch
	completedBatches map[string]*model.DistributionBatch
	schedules        map[string]*model.VestingSchedule
	categories       map[types.Category]*categoryState
	metrics          model.DistributionMetrics
	latencies        *aggregate.Window
	throughput       *aggregate.RateCounter
	genesisDone      bool
	running          bool
	cancel           context.CancelFunc
	loopDone         chan struct{}

	inflight  sync.WaitGroup
	breaker   *circuitbreaker.CircuitBreaker
	approvals *approval.Workflow
	executor  TransferExecutor
	bus       *events.Bus
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a stopped engine with a simulated executor and its own event bus
func New(cfg Config) *Engine {
	if cfg.MaxConcurrentBatches < 1 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = DefaultConfig().ProcessingInterval
	}
	e := &Engine{
		cfg:              cfg,
		tasks:            make(map[string]*model.DistributionTask),
		taskQueue:        queue.New[*model.DistributionTask](),
		batchQueue:       queue.New[*model.DistributionBatch](),
		batches:          make(map[string]*model.DistributionBatch),
		activeBatches:    make(map[string]*model.DistributionBatch),
		heldBatches:      make(map[string]*model.DistributionBatch),
		completedBatches: make(map[string]*model.DistributionBatch),
		schedules:        make(map[string]*model.VestingSchedule),
		categories:       make(map[types.Category]*categoryState),
		latencies:        aggregate.NewWindow(latencyHistorySize),
		throughput:       aggregate.NewRateCounter(throughputWindow),
		approvals:        approval.New(security.OpaqueVerifier{}),
		executor:         NewSimulatedExecutor(10*time.Millisecond, 50*time.Millisecond, 0),
		bus:              events.NewBus(),
		tracer:           tburnotel.Tracer(),
		now:              time.Now,
	}
	e.metrics = model.DistributionMetrics{
		TotalDistributedWei: new(big.Int),
		CategoryProgress:    make(map[types.Category]model.CategoryProgress),
		LastUpdatedAt:       e.now(),
	}
	e.breaker = circuitbreaker.New(cfg.CircuitFailureThreshold).
		WithResetDelay(cfg.CircuitResetDelay).
		WithTripCallback(func(failures int) {
			e.bus.Publish(events.Event{Type: events.CircuitOpen, Count: failures})
		}).
		WithResetCallback(func() {
			e.bus.Publish(events.Event{Type: events.CircuitReset})
		})
	return e
}

// WithExecutor replaces the transfer executor
func (e *Engine) WithExecutor(x TransferExecutor) *Engine {
	e.executor = x
	return e
}

// WithBus publishes events on a shared bus
func (e *Engine) WithBus(bus *events.Bus) *Engine {
	e.bus = bus
	return e
}

// WithVerifier sets how approval signatures are checked
func (e *Engine) WithVerifier(v security.SignatureVerifier) *Engine {
	e.approvals = approval.New(v).WithClock(e.now)
	return e
}

// WithClock replaces the time source of the engine, its breaker and its approval workflow
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.breaker.WithClock(now)
	e.approvals.WithClock(now)
	return e
}

// WithTracer replaces the tracer used for batch spans
func (e *Engine) WithTracer(t trace.Tracer) *Engine {
	e.tracer = t
	return e
}

// Events returns the bus the engine publishes on
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Start launches the processing loop. Starting a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	if e.metrics.StartedAt == nil {
		now := e.now()
		e.metrics.StartedAt = &now
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	done := e.loopDone
	e.mu.Unlock()

	go e.loop(ctx, done)

	logrus.WithFields(logrus.Fields{
		"max_concurrent": e.cfg.MaxConcurrentBatches,
		"interval":       e.cfg.ProcessingInterval.String(),
	}).Info("Distribution engine started")
	e.bus.Publish(events.Event{Type: events.EngineStarted})
}

// Stop halts the processing loop. In-flight batches keep running to completion.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.loopDone
	e.mu.Unlock()

	cancel()
	<-done

	logrus.Info("Distribution engine stopped")
	e.bus.Publish(events.Event{Type: events.EngineStopped})
}

// Wait blocks until every in-flight batch has finished or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the processing loop is active
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.ProcessTick()
		case <-ctx.Done():
			return
		}
	}
}
