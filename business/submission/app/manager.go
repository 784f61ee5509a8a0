package app

import (
	"context"
	"fmt"
	"math/big"
	stdatomic "sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	blockchainDomain "github.com/fd1az/mev-searcher/business/blockchain/domain"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-searcher/business/submission/app"
	meterName  = "github.com/fd1az/mev-searcher/business/submission/app"
)

// ManagerConfig holds submission limits and timing.
type ManagerConfig struct {
	TargetBlockSpan      uint64
	MaxConcurrentBundles int
	QueueWait            time.Duration
	PollInterval         time.Duration
	SimulateBeforeSubmit bool
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TargetBlockSpan:      3,
		MaxConcurrentBundles: 8,
		QueueWait:            200 * time.Millisecond,
		PollInterval:         time.Second,
		SimulateBeforeSubmit: false,
	}
}

// Handle tracks one in-flight bundle. Done delivers exactly one
// outcome when the state machine latches.
type Handle struct {
	Bundle *domain.Bundle
	done   chan domain.Outcome
}

// Done returns the terminal outcome channel.
func (h *Handle) Done() <-chan domain.Outcome {
	return h.done
}

// managerMetrics holds OTEL metric instruments.
type managerMetrics struct {
	submissions   metric.Int64Counter
	transitions   metric.Int64Counter
	capacityDrops metric.Int64Counter
}

// Manager packages priced plans into bundles, walks the ordered relay
// channels and polls for inclusion. It enforces a global concurrency
// cap with a short bounded wait.
type Manager struct {
	config  ManagerConfig
	relays  []RelayChannel
	sim     Simulator // nil disables simulation
	encoder TxEncoder
	chain   ChainReader
	logger  logger.LoggerInterface

	slots chan struct{}

	// head is the newest pushed chain head; nil until the stream
	// delivers one, at which point RPC polling stops.
	head stdatomic.Pointer[blockchainDomain.Block]

	tracer  trace.Tracer
	metrics *managerMetrics
}

// NewManager creates a submission manager.
func NewManager(cfg ManagerConfig, relays []RelayChannel, sim Simulator, encoder TxEncoder, chain ChainReader, log logger.LoggerInterface) (*Manager, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("at least one relay channel required")
	}
	if cfg.MaxConcurrentBundles <= 0 {
		cfg.MaxConcurrentBundles = DefaultManagerConfig().MaxConcurrentBundles
	}

	m := &Manager{
		config:  cfg,
		relays:  relays,
		sim:     sim,
		encoder: encoder,
		chain:   chain,
		logger:  log,
		slots:   make(chan struct{}, cfg.MaxConcurrentBundles),
		tracer:  otel.Tracer(tracerName),
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return m, nil
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &managerMetrics{}

	m.metrics.submissions, err = meter.Int64Counter(
		"submission_bundles_submitted_total",
		metric.WithDescription("Total bundles offered to relay channels"),
		metric.WithUnit("{bundle}"),
	)
	if err != nil {
		return err
	}

	m.metrics.transitions, err = meter.Int64Counter(
		"submission_bundle_transitions_total",
		metric.WithDescription("Total bundle state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	m.metrics.capacityDrops, err = meter.Int64Counter(
		"submission_capacity_rejections_total",
		metric.WithDescription("Total submissions rejected at the concurrency cap"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start consumes the chain head stream so trackers escalate on pushed
// blocks. Until the first head arrives, or when no stream is started,
// the manager falls back to reading the latest block over RPC.
func (m *Manager) Start(ctx context.Context, heads HeadSource) error {
	ch, err := heads.SubscribeBlocks(ctx)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case block, ok := <-ch:
				if !ok {
					return
				}
				if block == nil {
					continue
				}
				// Reconnects can replay older heads.
				if cur := m.head.Load(); cur == nil || block.Number > cur.Number {
					m.head.Store(block)
				}
			}
		}
	}()

	m.logger.Info(ctx, "submission manager consuming head stream")
	return nil
}

// currentHead prefers the pushed head and falls back to RPC before the
// stream has delivered one.
func (m *Manager) currentHead(ctx context.Context) (*blockchainDomain.Block, error) {
	if b := m.head.Load(); b != nil {
		return b, nil
	}
	return m.chain.LatestBlock(ctx)
}

// Submit packages and submits a priced plan. Blocks at most QueueWait
// for a free slot, then fails with CapacityExceeded. The returned
// handle delivers the terminal outcome.
func (m *Manager) Submit(ctx context.Context, plan *executionDomain.Plan, fees executionDomain.FeeParams) (*Handle, error) {
	return m.submit(ctx, plan, nil, fees)
}

// SubmitWithBackup submits a plan with a fallback held in reserve: when
// the primary reverts in simulation the backup is encoded and submitted
// in its place instead of abandoning the bundle.
func (m *Manager) SubmitWithBackup(ctx context.Context, plan, backup *executionDomain.Plan, fees executionDomain.FeeParams) (*Handle, error) {
	return m.submit(ctx, plan, backup, fees)
}

// Poll reports the bundle's current lifecycle state without waiting for
// the terminal outcome on the handle's Done channel.
func (m *Manager) Poll(handle *Handle) domain.BundleState {
	return handle.Bundle.State()
}

func (m *Manager) submit(ctx context.Context, plan, backup *executionDomain.Plan, fees executionDomain.FeeParams) (*Handle, error) {
	ctx, span := m.tracer.Start(ctx, "submission.submit",
		trace.WithAttributes(
			attribute.String("plan_id", plan.ID().String()),
			attribute.String("strategy", plan.Strategy()),
		),
	)
	defer span.End()

	select {
	case m.slots <- struct{}{}:
	case <-time.After(m.config.QueueWait):
		m.metrics.capacityDrops.Add(ctx, 1)
		span.SetStatus(codes.Error, "capacity")
		return nil, apperror.New(apperror.CodeCapacityExceeded,
			apperror.WithContext("concurrent bundle cap reached"))
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	handle, err := m.buildAndLaunch(ctx, plan, backup, fees)
	if err != nil {
		<-m.slots
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("bundle_id", handle.Bundle.ID.String()))
	span.SetStatus(codes.Ok, "submitted")
	return handle, nil
}

func (m *Manager) buildAndLaunch(ctx context.Context, plan, backup *executionDomain.Plan, fees executionDomain.FeeParams) (*Handle, error) {
	txs, err := m.encoder.EncodePlan(ctx, plan, fees)
	if err != nil {
		return nil, err
	}

	latest, err := m.currentHead(ctx)
	if err != nil {
		return nil, err
	}
	blockStart := latest.Number + 1
	blockEnd := blockStart + m.config.TargetBlockSpan - 1

	if m.config.SimulateBeforeSubmit && m.sim != nil {
		if simErr := m.sim.Simulate(ctx, txs, blockStart); simErr != nil {
			if backup == nil {
				// A simulated revert is an abandon, not a failure.
				return nil, apperror.New(apperror.CodeSimulationReverted,
					apperror.WithCause(simErr),
					apperror.WithContext("bundle reverted in simulation"))
			}

			m.logger.Warn(ctx, "primary plan reverted in simulation, falling back",
				"plan_id", plan.ID().String(),
				"backup_plan_id", backup.ID().String(),
				"error", simErr,
			)
			plan, backup = backup, nil
			txs, err = m.encoder.EncodePlan(ctx, plan, fees)
			if err != nil {
				return nil, err
			}
			if simErr := m.sim.Simulate(ctx, txs, blockStart); simErr != nil {
				return nil, apperror.New(apperror.CodeSimulationReverted,
					apperror.WithCause(simErr),
					apperror.WithContext("backup bundle reverted in simulation"))
			}
		}
	}

	channels := make([]string, len(m.relays))
	for i, r := range m.relays {
		channels[i] = r.Name()
	}

	bundle := domain.NewBundle(plan.ID(), plan.Strategy(), plan.SubjectClass(),
		fees, txs, blockStart, blockEnd, channels)
	if backup != nil {
		bundle.BackupPlanID = backup.ID()
	}

	accepted := m.submitForBlock(ctx, bundle, blockStart)
	if !accepted {
		// Stay in-flight: later target blocks may still land.
		m.logger.Warn(ctx, "no relay accepted initial block, will retry range",
			"bundle_id", bundle.ID.String(), "block", blockStart)
	}
	if err := bundle.MarkSubmitted(); err != nil {
		return nil, err
	}
	m.recordTransition(ctx, bundle, domain.StateSubmitted)

	handle := &Handle{
		Bundle: bundle,
		done:   make(chan domain.Outcome, 1),
	}

	expiry := plan.Expiry()
	atomic := plan.Atomic()
	go m.track(context.WithoutCancel(ctx), handle, expiry, atomic, accepted)

	return handle, nil
}

// submitForBlock walks the ordered channels, skipping any already used
// for this target block, until one accepts.
func (m *Manager) submitForBlock(ctx context.Context, bundle *domain.Bundle, block uint64) bool {
	for _, relay := range m.relays {
		if !bundle.TryUseChannel(relay.Name(), block) {
			continue
		}

		m.metrics.submissions.Add(ctx, 1,
			metric.WithAttributes(attribute.String("channel", relay.Name())))

		if err := relay.SubmitBundle(ctx, bundle.Txs, block); err != nil {
			m.logger.Warn(ctx, "relay submission failed",
				"bundle_id", bundle.ID.String(),
				"channel", relay.Name(),
				"block", block,
				"error", err,
			)
			continue
		}
		return true
	}
	return false
}

// track polls for inclusion and escalates through the target block
// range, releasing the concurrency slot on any terminal state.
func (m *Manager) track(ctx context.Context, handle *Handle, expiry time.Time, atomic bool, everAccepted bool) {
	bundle := handle.Bundle

	defer func() { <-m.slots }()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	currentBlock := bundle.TargetBlockStart

	for {
		select {
		case <-ctx.Done():
			m.finish(ctx, handle, domain.StateExpired, nil, 0, atomic)
			return
		case <-ticker.C:
		}

		if included, receiptBlock, gasSpent := m.checkInclusion(ctx, bundle); included {
			m.finish(ctx, handle, domain.StateIncluded, gasSpent, receiptBlock, atomic)
			return
		}

		if time.Now().After(expiry) {
			m.finish(ctx, handle, domain.StateExpired, nil, 0, atomic)
			return
		}

		latest, err := m.currentHead(ctx)
		if err != nil {
			m.logger.Warn(ctx, "head read failed",
				"bundle_id", bundle.ID.String(), "error", err)
			continue
		}

		// Target block mined without us: escalate to the next one.
		if latest.Number >= currentBlock {
			if latest.Number >= bundle.TargetBlockEnd {
				// Receipts can lag the head; look once more before
				// latching a bundle included in the final target block.
				if included, receiptBlock, gasSpent := m.checkInclusion(ctx, bundle); included {
					m.finish(ctx, handle, domain.StateIncluded, gasSpent, receiptBlock, atomic)
					return
				}
				final := domain.StateExpired
				if !everAccepted {
					final = domain.StateRejected
				}
				m.finish(ctx, handle, final, nil, 0, atomic)
				return
			}
			currentBlock = latest.Number + 1
			if m.submitForBlock(ctx, bundle, currentBlock) {
				everAccepted = true
			}
		}
	}
}

func (m *Manager) checkInclusion(ctx context.Context, bundle *domain.Bundle) (bool, uint64, *big.Int) {
	if len(bundle.Txs) == 0 {
		return false, 0, nil
	}

	// The first transaction anchors the bundle: relays include all
	// of it or none of it.
	receipt, err := m.chain.Receipt(ctx, bundle.Txs[0].Hash)
	if err != nil || receipt == nil {
		return false, 0, nil
	}
	return true, receipt.BlockNumber, receipt.GasCostWei()
}

func (m *Manager) finish(ctx context.Context, handle *Handle, state domain.BundleState, gasSpent *big.Int, includedBlock uint64, atomic bool) {
	bundle := handle.Bundle

	var err error
	switch state {
	case domain.StateIncluded:
		err = bundle.MarkIncluded()
	case domain.StateRejected:
		err = bundle.MarkRejected()
	default:
		err = bundle.MarkExpired()
	}
	if err != nil {
		// Already terminal: someone else won the race, keep the latch.
		return
	}
	m.recordTransition(ctx, bundle, state)

	if gasSpent == nil {
		gasSpent = big.NewInt(0)
	}

	outcome := domain.Outcome{
		BundleID:        bundle.ID.String(),
		PlanID:          bundle.PlanID.String(),
		Strategy:        bundle.Strategy,
		SubjectClass:    bundle.SubjectClass,
		State:           state,
		IncludedBlock:   includedBlock,
		TimeToInclusion: time.Since(bundle.SubmittedAt),
		GasSpentWei:     gasSpent,
		PriorityFeeWei:  bundle.Fees.MaxPriorityFeePerGas,
		Atomic:          atomic,
	}

	handle.done <- outcome

	m.logger.Info(ctx, "bundle finished",
		"bundle_id", bundle.ID.String(),
		"state", state.String(),
		"included_block", includedBlock,
	)
}

func (m *Manager) recordTransition(ctx context.Context, bundle *domain.Bundle, state domain.BundleState) {
	m.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", bundle.Strategy),
		attribute.String("state", state.String()),
	))
}
