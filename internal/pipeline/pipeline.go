// Package pipeline is the streaming training engine (C6): a single producer
// that tokenizes an input file and enqueues records, paired with a consumer
// that drains batches and fans per-record forward/backward work out across
// a fixed-size worker pool.
//
// Two task variants — Binary (logistic regression) and Multiclass (softmax,
// in its "coarse" per-worker-heap and "fine" per-class-heap flavours) —
// share this one engine. Per spec §9 ("two variants, one engine"), the
// engine itself knows nothing about sigmoid vs softmax, sketch blocks vs
// scalars, or how Top-K heaps are partitioned: all of that sits behind the
// Variant interface. The engine only owns the producer/consumer/queue
// skeleton, per-worker state checkout, output serialisation, and per-batch
// logging.
//
// Grounded on original_source/src/mission_softmax.cpp,
// coarse_mission_softmax.cpp and mission_logistic.cpp's shared
// producer/consumer/process skeleton. The worker pool itself is expressed
// with golang.org/x/sync/errgroup (the teacher imports the same module for
// singleflight; the fan-out here is the sibling use case the module
// exists for — concurrent independent work bounded by a limit — rather
// than request coalescing, which does not apply since no two workers ever
// process the same record).
//
// © 2025 sketchtrain authors. MIT License.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/Voskan/sketchtrain/internal/queue"
	"github.com/Voskan/sketchtrain/internal/telemetry"
)

// Record is whatever a Variant's Parse method produces from one line's
// fields; the engine only ever moves it between the queue and Process, it
// never inspects it.
type Record any

// WorkerState is per-worker mutable scratch (hash caches, active-set
// booleans, reusable logit buffers) owned and shaped entirely by the
// Variant. The engine checks instances in and out of a fixed pool so that,
// per spec §5, "workers never read from another worker's slot".
type WorkerState any

// Variant is the capability set spec §9 calls out: ComputeForward is
// folded into Process here, since for this engine the forward and backward
// passes share too much per-record scratch (hash caches in particular) to
// usefully separate into two virtual calls without just re-threading the
// same state through both — Process performs forward, loss, and (if train)
// gradient and Top-K maintenance, matching FeatureStream is Parse.
type Variant interface {
	// Parse turns one record's whitespace-separated fields into a Record.
	// A non-nil error is a MalformedInput: per spec §7 ("training on wrong
	// data is worse than stopping") the whole run aborts rather than
	// skipping the bad line.
	Parse(fields []string) (Record, error)

	// NewWorkerState constructs one worker's scratch. Called exactly
	// Config.Threads times, once per engine.
	NewWorkerState() WorkerState

	// Process runs the forward pass (and, if train, backward pass and
	// Top-K maintenance) for rec using ws. It returns the record's loss
	// contribution (already sign-adjusted so callers only need to
	// average and negate) and, for eval-mode records, the prediction
	// line to emit (without a trailing newline).
	Process(ws WorkerState, rec Record, train bool) (loss float32, predLine string)
}

// Config bundles the knobs every variant shares, following the teacher's
// functional-options shape (pkg/config.go).
type Config struct {
	Threads     int
	QueueDepth  int
	Logger      *zap.Logger
	Metrics     telemetry.Sink
	PollInterval time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Config)

// WithThreads sets the worker pool size (spec's THREADS).
func WithThreads(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Threads = n
		}
	}
}

// WithQueueDepth sets the hand-off queue's soft capacity (spec's FULL).
func WithQueueDepth(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.QueueDepth = n
		}
	}
}

// WithLogger plugs an external zap.Logger. The engine never logs on the
// per-record hot path, only per-batch summaries and lifecycle events,
// matching the teacher's cache logging discipline.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics plugs a telemetry.Sink. Defaults to a no-op sink.
func WithMetrics(m telemetry.Sink) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// WithPollInterval overrides the consumer's backpressure/drain poll
// interval (default one second, matching the reference trainer's
// std::this_thread::sleep_for(1s)). Tests use a much shorter interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

func defaultConfig() Config {
	return Config{
		Threads:      8,
		QueueDepth:   10000,
		Logger:       zap.NewNop(),
		Metrics:      telemetry.New(nil),
		PollInterval: time.Second,
	}
}

// Engine wires one Variant to the producer/consumer/worker-pool skeleton.
type Engine struct {
	variant Variant
	cfg     Config

	statePool chan WorkerState

	predMu  sync.Mutex
	predOut io.Writer
}

// New constructs an Engine for variant. predOut receives prediction lines
// during eval phases (spec §4.6 "prediction output... under a serialising
// lock"); it may be nil during train-only use.
func New(variant Variant, predOut io.Writer, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	pool := make(chan WorkerState, cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		pool <- variant.NewWorkerState()
	}

	return &Engine{
		variant:   variant,
		cfg:       cfg,
		statePool: pool,
		predOut:   predOut,
	}
}

// SetPredOut swaps the prediction-output writer, letting a caller that
// keeps one Engine alive across an epoch loop point it at a fresh
// per-epoch file (spec §6's `r<epoch>.pred` naming) without rebuilding the
// sketch, heaps or worker pool.
func (e *Engine) SetPredOut(w io.Writer) {
	e.predMu.Lock()
	e.predOut = w
	e.predMu.Unlock()
}

// RunFile drains src, running training (train=true) or evaluation
// (train=false), matching spec §4.7's phase state machine: a fresh
// producer/consumer pair per call, terminating once the producer has
// exhausted src and the queue is empty. The caller owns opening src (so
// error messages can name the file) and RunFile closes it before returning.
func (e *Engine) RunFile(ctx context.Context, src lineSource, train bool) error {
	defer src.Close()

	phase := telemetry.PhaseEval
	if train {
		phase = telemetry.PhaseTrain
	}

	q := queue.New[Record](e.cfg.QueueDepth, queue.WithPollInterval[Record](e.cfg.PollInterval))

	var producerErr error
	var producerDone sync.WaitGroup
	producerDone.Add(1)
	go func() {
		defer producerDone.Done()
		for {
			fields, ok, err := src.Next()
			if err != nil {
				producerErr = err
				return
			}
			if !ok {
				return
			}
			rec, err := e.variant.Parse(fields)
			if err != nil {
				e.cfg.Metrics.IncMalformedRecords()
				e.cfg.Logger.Error("pipeline: malformed record, aborting", zap.Error(err))
				producerErr = err
				return
			}
			q.Enqueue(rec)
		}
	}()

	done := make(chan struct{})
	go func() {
		producerDone.Wait()
		close(done)
	}()

	cumulative := 0
	for {
		producerAlive := true
		select {
		case <-done:
			producerAlive = false
		default:
		}

		if !q.Full() && producerAlive {
			time.Sleep(e.cfg.PollInterval)
			continue
		}

		items := q.Retrieve()
		if len(items) == 0 {
			if !producerAlive && q.Empty() {
				break
			}
			time.Sleep(e.cfg.PollInterval)
			continue
		}
		e.cfg.Metrics.SetQueueDepth(len(items))

		start := time.Now()
		totalLoss, err := e.processBatch(ctx, items, train)
		if err != nil {
			return err
		}
		cumulative += len(items)
		e.cfg.Metrics.IncRecords(phase, len(items))
		e.cfg.Metrics.ObserveBatchDuration(phase, time.Since(start).Seconds())

		if train {
			avgNegLoss := -totalLoss / float32(len(items))
			e.cfg.Metrics.ObserveBatchLoss(phase, float64(avgNegLoss))
			e.cfg.Logger.Sugar().Infof("%d\t%f", cumulative, avgNegLoss)
		}
	}

	if producerErr != nil {
		return fmt.Errorf("pipeline: read: %w", producerErr)
	}
	return nil
}

// processBatch fans items out across the worker pool, bounded to
// Config.Threads concurrent goroutines by errgroup.SetLimit, and returns
// the summed loss contribution (already sign-adjusted, spec §4.6 step 5).
func (e *Engine) processBatch(ctx context.Context, items []Record, train bool) (float32, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Threads)

	var mu sync.Mutex
	var total float32

	for _, rec := range items {
		rec := rec
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			ws := <-e.statePool
			defer func() { e.statePool <- ws }()

			loss, predLine := e.variant.Process(ws, rec, train)

			mu.Lock()
			total += loss
			mu.Unlock()

			if !train {
				e.predMu.Lock()
				if e.predOut != nil {
					fmt.Fprintln(e.predOut, predLine)
				}
				e.predMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// lineSource is the subset of tokenizer.Scanner the pipeline depends on,
// kept as a local interface so tests can supply an in-memory source.
type lineSource interface {
	Next() (fields []string, ok bool, err error)
	Close() error
}
