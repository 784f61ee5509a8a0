package app

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	blockchainDomain "github.com/fd1az/mev-searcher/business/blockchain/domain"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

type submitCall struct {
	channel string
	block   uint64
}

// stubRelay records submissions and optionally fails them.
type stubRelay struct {
	name string
	err  error

	mu    sync.Mutex
	calls []submitCall
}

func (r *stubRelay) Name() string { return r.name }

func (r *stubRelay) SubmitBundle(_ context.Context, _ []domain.SignedTx, block uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, submitCall{channel: r.name, block: block})
	return r.err
}

func (r *stubRelay) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stubRelay) blocks() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.block
	}
	return out
}

type stubSimulator struct {
	err error
}

func (s *stubSimulator) Simulate(context.Context, []domain.SignedTx, uint64) error {
	return s.err
}

// seqSimulator returns one scripted error per call, then succeeds.
type seqSimulator struct {
	mu   sync.Mutex
	errs []error
}

func (s *seqSimulator) Simulate(context.Context, []domain.SignedTx, uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type stubTxEncoder struct {
	err error
}

func (e *stubTxEncoder) EncodePlan(_ context.Context, plan *executionDomain.Plan, _ executionDomain.FeeParams) ([]domain.SignedTx, error) {
	if e.err != nil {
		return nil, e.err
	}
	txs := make([]domain.SignedTx, plan.StepCount())
	for i := range txs {
		txs[i] = domain.SignedTx{
			Raw:  []byte{byte(i + 1)},
			Hash: common.BytesToHash([]byte(plan.ID().String() + string(rune('a'+i)))),
		}
	}
	return txs, nil
}

// stubChain serves a mutable latest block and receipt table.
type stubChain struct {
	mu          sync.Mutex
	latest      uint64
	latestCalls int
	receipts    map[common.Hash]*blockchainDomain.Receipt

	// receiptDefer hides stored receipts for that many lookups,
	// imitating propagation lag behind the head.
	receiptDefer int
}

func newStubChain(latest uint64) *stubChain {
	return &stubChain{
		latest:   latest,
		receipts: make(map[common.Hash]*blockchainDomain.Receipt),
	}
}

func (c *stubChain) LatestBlock(context.Context) (*blockchainDomain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestCalls++
	return &blockchainDomain.Block{Number: c.latest}, nil
}

func (c *stubChain) latestCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestCalls
}

func (c *stubChain) Receipt(_ context.Context, hash common.Hash) (*blockchainDomain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptDefer > 0 {
		c.receiptDefer--
		return nil, nil
	}
	return c.receipts[hash], nil
}

func (c *stubChain) setLatest(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = n
}

func (c *stubChain) addReceipt(hash common.Hash, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = &blockchainDomain.Receipt{
		TxHash:            hash,
		BlockNumber:       block,
		Status:            1,
		GasUsed:           250_000,
		EffectiveGasPrice: big.NewInt(30_000_000_000),
	}
}

// stubHeads is a channel-backed head stream.
type stubHeads struct {
	ch chan *blockchainDomain.Block
}

func newStubHeads() *stubHeads {
	return &stubHeads{ch: make(chan *blockchainDomain.Block, 16)}
}

func (h *stubHeads) SubscribeBlocks(context.Context) (<-chan *blockchainDomain.Block, error) {
	return h.ch, nil
}

func (h *stubHeads) push(n uint64) {
	h.ch <- &blockchainDomain.Block{Number: n}
}

func testPlan(t *testing.T, expiry time.Time) *executionDomain.Plan {
	t.Helper()
	steps := []executionDomain.Step{
		{
			Kind:     executionDomain.StepProtocolCall,
			Target:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Calldata: []byte{0x01, 0x02},
		},
	}
	plan, err := executionDomain.NewPlan(uuid.New(), "liquidation", "aave_v3", steps,
		executionDomain.FundingMode{Kind: executionDomain.FundSelf},
		big.NewInt(1), big.NewInt(10_000_000_000_000_000), true, 300_000,
		expiry)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}

func testFees() executionDomain.FeeParams {
	return executionDomain.FeeParams{
		MaxFeePerGas:         big.NewInt(40_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		GasLimit:             300_000,
	}
}

func fastConfig() ManagerConfig {
	return ManagerConfig{
		TargetBlockSpan:      3,
		MaxConcurrentBundles: 4,
		QueueWait:            20 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
		SimulateBeforeSubmit: false,
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig, relays []RelayChannel, sim Simulator, chain ChainReader) *Manager {
	t.Helper()
	m, err := NewManager(cfg, relays, sim, &stubTxEncoder{}, chain, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func waitOutcome(t *testing.T, h *Handle) domain.Outcome {
	t.Helper()
	select {
	case out := <-h.Done():
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return domain.Outcome{}
	}
}

func TestManagerInclusionOutcome(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{relay}, nil, chain)

	plan := testPlan(t, time.Now().Add(time.Minute))
	handle, err := m.Submit(context.Background(), plan, testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := handle.Bundle.State(); got != domain.StateSubmitted {
		t.Fatalf("bundle state = %v, want submitted", got)
	}

	chain.addReceipt(handle.Bundle.Txs[0].Hash, 101)

	out := waitOutcome(t, handle)
	if out.State != domain.StateIncluded {
		t.Fatalf("outcome state = %v, want included", out.State)
	}
	if out.IncludedBlock != 101 {
		t.Errorf("included block = %d, want 101", out.IncludedBlock)
	}
	if out.GasSpentWei.Sign() <= 0 {
		t.Errorf("gas spent = %s, want positive", out.GasSpentWei)
	}
	if got := handle.Bundle.State(); got != domain.StateIncluded {
		t.Errorf("bundle state = %v, want included", got)
	}
}

func TestManagerCapacityExceeded(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)

	cfg := fastConfig()
	cfg.MaxConcurrentBundles = 1
	m := newTestManager(t, cfg, []RelayChannel{relay}, nil, chain)

	first, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err = m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if !apperror.HasCode(err, apperror.CodeCapacityExceeded) {
		t.Fatalf("second Submit: got %v, want CAPACITY_EXCEEDED", err)
	}

	// Finishing the first bundle frees the slot.
	chain.addReceipt(first.Bundle.Txs[0].Hash, 101)
	waitOutcome(t, first)

	third, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
	chain.addReceipt(third.Bundle.Txs[0].Hash, 101)
	waitOutcome(t, third)
}

func TestManagerFallbackOrdering(t *testing.T) {
	primary := &stubRelay{name: "relay.primary", err: errors.New("connection refused")}
	fallback := &stubRelay{name: "relay.fallback"}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{primary, fallback}, nil, chain)

	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if primary.callCount() != 1 {
		t.Errorf("primary calls = %d, want 1", primary.callCount())
	}
	if fallback.callCount() != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.callCount())
	}

	chain.addReceipt(handle.Bundle.Txs[0].Hash, 101)
	waitOutcome(t, handle)
}

func TestManagerEscalatesThroughBlockRange(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{relay}, nil, chain)

	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Walk the chain past the whole target range without inclusion.
	for _, n := range []uint64{101, 102, 103} {
		chain.setLatest(n)
		time.Sleep(20 * time.Millisecond)
	}

	out := waitOutcome(t, handle)
	if out.State != domain.StateExpired {
		t.Fatalf("outcome state = %v, want expired", out.State)
	}

	// Every submission targeted a distinct block within the range.
	seen := make(map[uint64]bool)
	for _, b := range relay.blocks() {
		if seen[b] {
			t.Errorf("block %d targeted twice on the same channel", b)
		}
		seen[b] = true
		if b < 101 || b > 103 {
			t.Errorf("block %d outside target range [101,103]", b)
		}
	}
}

func TestManagerEscalatesOnPushedHeads(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{relay}, nil, chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads := newStubHeads()
	if err := m.Start(ctx, heads); err != nil {
		t.Fatalf("Start: %v", err)
	}

	heads.push(100)
	waitForHead(t, m, 100)

	handle, err := m.Submit(ctx, testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Drive the tracker through the target range on pushed heads alone.
	for _, n := range []uint64{101, 102, 103} {
		heads.push(n)
		waitForHead(t, m, n)
		time.Sleep(20 * time.Millisecond)
	}

	out := waitOutcome(t, handle)
	if out.State != domain.StateExpired {
		t.Fatalf("outcome state = %v, want expired", out.State)
	}

	seen := make(map[uint64]bool)
	for _, b := range relay.blocks() {
		if seen[b] {
			t.Errorf("block %d targeted twice on the same channel", b)
		}
		seen[b] = true
		if b < 101 || b > 103 {
			t.Errorf("block %d outside target range [101,103]", b)
		}
	}

	// With a live head stream the chain is never polled for heads.
	if n := chain.latestCallCount(); n != 0 {
		t.Errorf("LatestBlock called %d times while heads were streaming, want 0", n)
	}
}

func waitForHead(t *testing.T, m *Manager, want uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b := m.head.Load(); b != nil && b.Number >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("head %d never observed", want)
}

func TestManagerRejectedWhenNoRelayAccepts(t *testing.T) {
	relay := &stubRelay{name: "relay.primary", err: errors.New("bundle rejected")}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{relay}, nil, chain)

	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	chain.setLatest(103)

	out := waitOutcome(t, handle)
	if out.State != domain.StateRejected {
		t.Fatalf("outcome state = %v, want rejected", out.State)
	}
}

func TestManagerExpiryDeadline(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{relay}, nil, chain)

	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(30*time.Millisecond)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out := waitOutcome(t, handle)
	if out.State != domain.StateExpired {
		t.Fatalf("outcome state = %v, want expired", out.State)
	}
}

func TestManagerSimulationRevertAbandons(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)

	cfg := fastConfig()
	cfg.SimulateBeforeSubmit = true
	cfg.MaxConcurrentBundles = 1
	sim := &stubSimulator{err: errors.New("execution reverted")}
	m := newTestManager(t, cfg, []RelayChannel{relay}, sim, chain)

	_, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if !apperror.HasCode(err, apperror.CodeSimulationReverted) {
		t.Fatalf("Submit: got %v, want SIMULATION_REVERTED", err)
	}
	if relay.callCount() != 0 {
		t.Errorf("relay called %d times after revert, want 0", relay.callCount())
	}

	// The slot is released on abandon.
	sim.err = nil
	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit after abandon: %v", err)
	}
	chain.addReceipt(handle.Bundle.Txs[0].Hash, 101)
	waitOutcome(t, handle)
}

func TestManagerIncludedInFinalBlockDespiteReceiptLag(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)

	cfg := fastConfig()
	cfg.PollInterval = 50 * time.Millisecond
	m := newTestManager(t, cfg, []RelayChannel{relay}, nil, chain)

	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The bundle lands in the final target block, but the receipt only
	// shows up one lookup after the head has already reached it.
	chain.mu.Lock()
	chain.receiptDefer = 1
	chain.mu.Unlock()
	chain.addReceipt(handle.Bundle.Txs[0].Hash, 103)
	chain.setLatest(103)

	out := waitOutcome(t, handle)
	if out.State != domain.StateIncluded {
		t.Fatalf("outcome state = %v, want included despite receipt lag", out.State)
	}
	if out.IncludedBlock != 103 {
		t.Errorf("included block = %d, want 103", out.IncludedBlock)
	}
}

func TestManagerBackupUsedWhenPrimaryReverts(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)

	cfg := fastConfig()
	cfg.SimulateBeforeSubmit = true
	sim := &seqSimulator{errs: []error{errors.New("execution reverted")}}
	m := newTestManager(t, cfg, []RelayChannel{relay}, sim, chain)

	primary := testPlan(t, time.Now().Add(time.Minute))
	backup := testPlan(t, time.Now().Add(time.Minute))

	handle, err := m.SubmitWithBackup(context.Background(), primary, backup, testFees())
	if err != nil {
		t.Fatalf("SubmitWithBackup: %v", err)
	}
	if handle.Bundle.PlanID != backup.ID() {
		t.Errorf("bundle plan = %s, want backup %s", handle.Bundle.PlanID, backup.ID())
	}
	if relay.callCount() == 0 {
		t.Error("backup bundle never reached the relay")
	}

	chain.addReceipt(handle.Bundle.Txs[0].Hash, 101)
	out := waitOutcome(t, handle)
	if out.PlanID != backup.ID().String() {
		t.Errorf("outcome plan = %s, want backup %s", out.PlanID, backup.ID())
	}
}

func TestManagerBackupRecordedWhenPrimaryClean(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)

	cfg := fastConfig()
	cfg.SimulateBeforeSubmit = true
	m := newTestManager(t, cfg, []RelayChannel{relay}, &seqSimulator{}, chain)

	primary := testPlan(t, time.Now().Add(time.Minute))
	backup := testPlan(t, time.Now().Add(time.Minute))

	handle, err := m.SubmitWithBackup(context.Background(), primary, backup, testFees())
	if err != nil {
		t.Fatalf("SubmitWithBackup: %v", err)
	}
	if handle.Bundle.PlanID != primary.ID() {
		t.Errorf("bundle plan = %s, want primary %s", handle.Bundle.PlanID, primary.ID())
	}
	if handle.Bundle.BackupPlanID != backup.ID() {
		t.Errorf("backup plan = %s, want %s", handle.Bundle.BackupPlanID, backup.ID())
	}

	chain.addReceipt(handle.Bundle.Txs[0].Hash, 101)
	waitOutcome(t, handle)
}

func TestManagerBackupRevertAbandons(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)

	cfg := fastConfig()
	cfg.SimulateBeforeSubmit = true
	sim := &seqSimulator{errs: []error{
		errors.New("execution reverted"),
		errors.New("execution reverted"),
	}}
	m := newTestManager(t, cfg, []RelayChannel{relay}, sim, chain)

	primary := testPlan(t, time.Now().Add(time.Minute))
	backup := testPlan(t, time.Now().Add(time.Minute))

	_, err := m.SubmitWithBackup(context.Background(), primary, backup, testFees())
	if !apperror.HasCode(err, apperror.CodeSimulationReverted) {
		t.Fatalf("SubmitWithBackup: got %v, want SIMULATION_REVERTED", err)
	}
	if relay.callCount() != 0 {
		t.Errorf("relay called %d times after double revert, want 0", relay.callCount())
	}
}

func TestManagerPollReportsLifecycle(t *testing.T) {
	relay := &stubRelay{name: "relay.primary"}
	chain := newStubChain(100)
	m := newTestManager(t, fastConfig(), []RelayChannel{relay}, nil, chain)

	handle, err := m.Submit(context.Background(), testPlan(t, time.Now().Add(time.Minute)), testFees())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := m.Poll(handle); got != domain.StateSubmitted {
		t.Errorf("Poll = %v, want submitted", got)
	}

	chain.addReceipt(handle.Bundle.Txs[0].Hash, 101)
	waitOutcome(t, handle)

	if got := m.Poll(handle); got != domain.StateIncluded {
		t.Errorf("Poll after outcome = %v, want included", got)
	}
}
