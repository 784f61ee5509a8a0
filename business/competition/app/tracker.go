// Package app contains the outcome recorder and snapshot publisher for the competition context.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/mev-searcher/business/competition/domain"
	"github.com/fd1az/mev-searcher/internal/logger"
)

const meterName = "github.com/fd1az/mev-searcher/business/competition/app"

// TrackerConfig holds configuration for the tracker.
type TrackerConfig struct {
	Alpha       float64 // EWMA smoothing factor
	IntakeDepth int     // bounded outcome queue depth
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Alpha:       0.1,
		IntakeDepth: 256,
	}
}

// trackerMetrics holds OTEL metric instruments.
type trackerMetrics struct {
	outcomesRecorded metric.Int64Counter
	outcomesDropped  metric.Int64Counter
}

// Tracker records bundle outcomes and publishes copy-on-write snapshots
// of the competition model. Writes are serialized through one goroutine;
// reads load the current snapshot without locking.
type Tracker struct {
	config TrackerConfig
	logger logger.LoggerInterface

	model    *domain.Model
	snapshot atomic.Pointer[domain.Snapshot]
	outcomes chan domain.Outcome

	metrics *trackerMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
	stopped   chan struct{}
}

// NewTracker creates a tracker. Call Start before recording.
func NewTracker(cfg TrackerConfig, log logger.LoggerInterface) (*Tracker, error) {
	if cfg.IntakeDepth <= 0 {
		cfg.IntakeDepth = DefaultTrackerConfig().IntakeDepth
	}

	t := &Tracker{
		config:   cfg,
		logger:   log,
		model:    domain.NewModel(cfg.Alpha),
		outcomes: make(chan domain.Outcome, cfg.IntakeDepth),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	t.snapshot.Store(domain.EmptySnapshot())

	if err := t.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return t, nil
}

func (t *Tracker) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	t.metrics = &trackerMetrics{}

	t.metrics.outcomesRecorded, err = meter.Int64Counter(
		"competition_outcomes_recorded_total",
		metric.WithDescription("Total bundle outcomes folded into the competition model"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return err
	}

	t.metrics.outcomesDropped, err = meter.Int64Counter(
		"competition_outcomes_dropped_total",
		metric.WithDescription("Total bundle outcomes dropped because the intake was full"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start launches the single writer goroutine.
func (t *Tracker) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.started.Store(true)
		go t.run(ctx)
	})
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.stopped)

	for {
		select {
		case o := <-t.outcomes:
			t.model.Apply(o)
			t.snapshot.Store(t.model.Snapshot())
			t.metrics.outcomesRecorded.Add(ctx, 1)
		case <-t.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Record enqueues an outcome. Best-effort: when the intake is full the
// outcome is dropped so the hot path never blocks on statistics.
func (t *Tracker) Record(ctx context.Context, o domain.Outcome) {
	select {
	case t.outcomes <- o:
	default:
		t.metrics.outcomesDropped.Add(ctx, 1)
		t.logger.Warn(ctx, "competition outcome dropped, intake full",
			"strategy", o.Strategy,
			"subject_class", o.SubjectClass,
			"result", string(o.Result),
		)
	}
}

// Snapshot returns the latest published view. Lock-free.
func (t *Tracker) Snapshot() *domain.Snapshot {
	return t.snapshot.Load()
}

// Close stops the writer goroutine.
func (t *Tracker) Close() error {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.started.Load() {
			<-t.stopped
		}
	})
	return nil
}
