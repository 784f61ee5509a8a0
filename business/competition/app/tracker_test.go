package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/mev-searcher/business/competition/domain"
	"github.com/fd1az/mev-searcher/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func testOutcome(result domain.Result) domain.Outcome {
	return domain.Outcome{
		Strategy:        "sandwich",
		SubjectClass:    "uniswap-v2",
		Result:          result,
		PriorityFeeGwei: 2.5,
		TimeToInclusion: time.Second,
		RealizedProfit:  decimal.RequireFromString("0.02"),
		EstimatedProfit: decimal.RequireFromString("0.02"),
		GasSpentETH:     decimal.RequireFromString("0.001"),
		Atomic:          true,
		ObservedAt:      time.Now(),
	}
}

func TestTrackerRecordUpdatesSnapshot(t *testing.T) {
	tracker, err := NewTracker(DefaultTrackerConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	defer tracker.Close()

	ctx := context.Background()
	tracker.Start(ctx)

	key := domain.Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}
	tracker.Record(ctx, testOutcome(domain.ResultIncluded))

	deadline := time.After(2 * time.Second)
	for {
		if tracker.Snapshot().Observations(key) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("snapshot never picked up recorded outcome")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := tracker.Snapshot().WinProbability(key); got <= domain.DefaultWinRatePrior {
		t.Errorf("WinProbability() = %v, want above prior after a win", got)
	}
}

func TestTrackerRecordNeverBlocksWhenFull(t *testing.T) {
	cfg := TrackerConfig{Alpha: 0.1, IntakeDepth: 1}
	tracker, err := NewTracker(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	// Writer intentionally not started so the intake stays full.

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Record(ctx, testOutcome(domain.ResultIncluded))
		tracker.Record(ctx, testOutcome(domain.ResultIncluded))
		tracker.Record(ctx, testOutcome(domain.ResultIncluded))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on full intake")
	}

	tracker.Close()
}

func TestTrackerInitialSnapshotEmpty(t *testing.T) {
	tracker, err := NewTracker(DefaultTrackerConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	defer tracker.Close()

	key := domain.Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}
	if got := tracker.Snapshot().WinProbability(key); got != domain.DefaultWinRatePrior {
		t.Errorf("WinProbability() = %v, want prior %v", got, domain.DefaultWinRatePrior)
	}
}
