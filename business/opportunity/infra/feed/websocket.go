// Package feed streams detected candidates from the detector service.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/cache"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/wsconn"
)

const (
	tracerName = "github.com/fd1az/mev-searcher/business/opportunity/infra/feed"
	meterName  = "github.com/fd1az/mev-searcher/business/opportunity/infra/feed"

	defaultDedupeTTL = 30 * time.Second
	candidateBuffer  = 128
)

// Config holds candidate feed configuration.
type Config struct {
	URL       string
	DedupeTTL time.Duration
}

// feedMetrics holds OTEL metric instruments.
type feedMetrics struct {
	received   metric.Int64Counter
	duplicates metric.Int64Counter
	malformed  metric.Int64Counter
}

// Feed consumes detector messages over WebSocket, validates them into
// candidates and dedupes repeated sightings of the same subject.
type Feed struct {
	config Config
	ws     *wsconn.Client
	seen   *cache.Cache[string, struct{}]
	out    chan *domain.Candidate
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *feedMetrics
}

// New creates a candidate feed.
func New(cfg Config, log logger.LoggerInterface) (*Feed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}

	f := &Feed{
		config: cfg,
		ws:     wsconn.New(wsconn.DefaultConfig(cfg.URL)),
		seen:   cache.New[string, struct{}](time.Minute),
		out:    make(chan *domain.Candidate, candidateBuffer),
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	if err := f.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return f, nil
}

func (f *Feed) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	f.metrics = &feedMetrics{}

	f.metrics.received, err = meter.Int64Counter(
		"feed_candidates_received_total",
		metric.WithDescription("Total candidate messages received from the detector"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	f.metrics.duplicates, err = meter.Int64Counter(
		"feed_candidates_deduplicated_total",
		metric.WithDescription("Total candidate messages dropped as duplicates"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	f.metrics.malformed, err = meter.Int64Counter(
		"feed_messages_malformed_total",
		metric.WithDescription("Total detector messages that failed validation"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start connects the WebSocket and begins decoding messages.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}

	go f.readLoop(ctx)

	f.logger.Info(ctx, "candidate feed connected", "url", f.config.URL)
	return nil
}

// Candidates returns the stream of validated, deduplicated candidates.
func (f *Feed) Candidates() <-chan *domain.Candidate {
	return f.out
}

// Close shuts the feed down.
func (f *Feed) Close() error {
	f.seen.Close()
	return f.ws.Close()
}

func (f *Feed) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-f.ws.Messages():
			if !ok {
				return
			}
			f.handleMessage(ctx, raw)
		}
	}
}

func (f *Feed) handleMessage(ctx context.Context, raw []byte) {
	ctx, span := f.tracer.Start(ctx, "feed.handle_message")
	defer span.End()

	var msg candidateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.metrics.malformed.Add(ctx, 1)
		f.logger.Warn(ctx, "malformed detector message", "error", err)
		return
	}

	f.metrics.received.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", msg.Strategy)))

	// A subject already in flight within the TTL is the same sighting
	// reported again, not a new opportunity.
	dedupeKey := msg.Strategy + ":" + msg.SubjectRef
	if _, dup := f.seen.Get(ctx, dedupeKey); dup {
		f.metrics.duplicates.Add(ctx, 1)
		return
	}
	f.seen.Set(ctx, dedupeKey, struct{}{}, f.config.DedupeTTL)

	cand, err := msg.toCandidate()
	if err != nil {
		f.metrics.malformed.Add(ctx, 1)
		f.logger.Warn(ctx, "invalid candidate message",
			"strategy", msg.Strategy,
			"subject_ref", msg.SubjectRef,
			"error", err)
		return
	}

	span.SetAttributes(attribute.String("candidate_id", cand.ID.String()))

	select {
	case f.out <- cand:
	default:
		f.logger.Warn(ctx, "feed buffer full, candidate dropped",
			"candidate_id", cand.ID.String())
	}
}

// candidateMessage is the detector wire format. Amounts in native
// units are decimal strings; wei amounts are integer strings.
type candidateMessage struct {
	Strategy     string `json:"strategy"`
	SubjectRef   string `json:"subject_ref"`
	SubjectClass string `json:"subject_class"`

	GrossProfit string  `json:"gross_profit"`
	Cost        string  `json:"cost"`
	Confidence  float64 `json:"confidence"`
	TargetValue string  `json:"target_value,omitempty"`

	ExpiryUnixMs int64  `json:"expiry_unix_ms"`
	ExpiryBlock  uint64 `json:"expiry_block,omitempty"`

	SizeMin string `json:"size_min"`
	SizeMax string `json:"size_max"`

	Sandwich    *sandwichMessage    `json:"sandwich,omitempty"`
	Liquidation *liquidationMessage `json:"liquidation,omitempty"`
	MicroArb    *microArbMessage    `json:"micro_arbitrage,omitempty"`
	CrossChain  *crossChainMessage  `json:"cross_chain,omitempty"`
}

type sandwichMessage struct {
	Router         string `json:"router"`
	Pool           string `json:"pool"`
	TokenIn        string `json:"token_in"`
	TokenOut       string `json:"token_out"`
	ReserveIn      string `json:"reserve_in"`
	ReserveOut     string `json:"reserve_out"`
	VictimAmountIn string `json:"victim_amount_in"`
	VictimMinOut   string `json:"victim_min_out"`
	VictimRawTx    string `json:"victim_raw_tx"` // 0x-prefixed signed tx
	PoolFeeBps     int64  `json:"pool_fee_bps"`
}

type liquidationMessage struct {
	Borrower           string `json:"borrower"`
	DebtAsset          string `json:"debt_asset"`
	CollateralAsset    string `json:"collateral_asset"`
	DebtToCover        string `json:"debt_to_cover"`
	ExpectedCollateral string `json:"expected_collateral"`
	SwapRouter         string `json:"swap_router"`
	HealthFactor       string `json:"health_factor"`
}

type venueMessage struct {
	Venue    string `json:"venue"`
	Router   string `json:"router"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	Price    string `json:"price"`
	Depth    string `json:"depth"`
}

type microArbMessage struct {
	Buy  venueMessage `json:"buy"`
	Sell venueMessage `json:"sell"`
}

type crossChainMessage struct {
	SourceChainID    uint64 `json:"source_chain_id"`
	DestChainID      uint64 `json:"dest_chain_id"`
	Bridge           string `json:"bridge"`
	Asset            string `json:"asset"`
	MinGuaranteedOut string `json:"min_guaranteed_out"`
	QuoteExpiryMs    int64  `json:"quote_expiry_unix_ms"`
}

func (m *candidateMessage) toCandidate() (*domain.Candidate, error) {
	gross, err := decimal.NewFromString(m.GrossProfit)
	if err != nil {
		return nil, fmt.Errorf("gross_profit: %w", err)
	}
	cost, err := decimal.NewFromString(m.Cost)
	if err != nil {
		return nil, fmt.Errorf("cost: %w", err)
	}
	sizeMin, err := decimal.NewFromString(m.SizeMin)
	if err != nil {
		return nil, fmt.Errorf("size_min: %w", err)
	}
	sizeMax, err := decimal.NewFromString(m.SizeMax)
	if err != nil {
		return nil, fmt.Errorf("size_max: %w", err)
	}

	cand, err := domain.NewCandidate(
		domain.StrategyKind(m.Strategy),
		m.SubjectRef,
		m.SubjectClass,
		gross,
		cost,
		decimal.NewFromFloat(m.Confidence),
		time.UnixMilli(m.ExpiryUnixMs),
		domain.SizeBounds{Min: sizeMin, Max: sizeMax},
	)
	if err != nil {
		return nil, err
	}
	cand.ExpiryBlock = m.ExpiryBlock

	if m.TargetValue != "" {
		cand.TargetValue, err = decimal.NewFromString(m.TargetValue)
		if err != nil {
			return nil, fmt.Errorf("target_value: %w", err)
		}
	}

	switch cand.Kind {
	case domain.StrategySandwich:
		cand.Sandwich, err = m.Sandwich.toDetail()
	case domain.StrategyLiquidation:
		cand.Liquidation, err = m.Liquidation.toDetail()
	case domain.StrategyMicroArbitrage:
		cand.MicroArb, err = m.MicroArb.toDetail()
	case domain.StrategyCrossChainArbitrage:
		cand.CrossChain, err = m.CrossChain.toDetail()
	default:
		return nil, fmt.Errorf("unknown strategy %q", m.Strategy)
	}
	if err != nil {
		return nil, err
	}

	return cand, nil
}

func (m *sandwichMessage) toDetail() (*domain.SandwichDetail, error) {
	if m == nil {
		return nil, fmt.Errorf("missing sandwich detail")
	}
	reserveIn, err := parseWei(m.ReserveIn, "reserve_in")
	if err != nil {
		return nil, err
	}
	reserveOut, err := parseWei(m.ReserveOut, "reserve_out")
	if err != nil {
		return nil, err
	}
	victimIn, err := parseWei(m.VictimAmountIn, "victim_amount_in")
	if err != nil {
		return nil, err
	}
	victimMinOut, err := parseWei(m.VictimMinOut, "victim_min_out")
	if err != nil {
		return nil, err
	}
	victimRawTx, err := hexutil.Decode(m.VictimRawTx)
	if err != nil {
		return nil, fmt.Errorf("victim_raw_tx: %w", err)
	}

	return &domain.SandwichDetail{
		Router:         common.HexToAddress(m.Router),
		Pool:           common.HexToAddress(m.Pool),
		TokenIn:        common.HexToAddress(m.TokenIn),
		TokenOut:       common.HexToAddress(m.TokenOut),
		ReserveIn:      reserveIn,
		ReserveOut:     reserveOut,
		VictimAmountIn: victimIn,
		VictimMinOut:   victimMinOut,
		VictimRawTx:    victimRawTx,
		PoolFeeBps:     m.PoolFeeBps,
	}, nil
}

func (m *liquidationMessage) toDetail() (*domain.LiquidationDetail, error) {
	if m == nil {
		return nil, fmt.Errorf("missing liquidation detail")
	}
	debt, err := parseWei(m.DebtToCover, "debt_to_cover")
	if err != nil {
		return nil, err
	}
	collateral, err := parseWei(m.ExpectedCollateral, "expected_collateral")
	if err != nil {
		return nil, err
	}
	health, err := decimal.NewFromString(m.HealthFactor)
	if err != nil {
		return nil, fmt.Errorf("health_factor: %w", err)
	}

	return &domain.LiquidationDetail{
		Borrower:           common.HexToAddress(m.Borrower),
		DebtAsset:          common.HexToAddress(m.DebtAsset),
		CollateralAsset:    common.HexToAddress(m.CollateralAsset),
		DebtToCover:        debt,
		ExpectedCollateral: collateral,
		SwapRouter:         common.HexToAddress(m.SwapRouter),
		HealthFactor:       health,
	}, nil
}

func (m *microArbMessage) toDetail() (*domain.MicroArbDetail, error) {
	if m == nil {
		return nil, fmt.Errorf("missing micro_arbitrage detail")
	}
	buy, err := m.Buy.toQuote()
	if err != nil {
		return nil, fmt.Errorf("buy: %w", err)
	}
	sell, err := m.Sell.toQuote()
	if err != nil {
		return nil, fmt.Errorf("sell: %w", err)
	}
	return &domain.MicroArbDetail{BuyVenue: buy, SellVenue: sell}, nil
}

func (m venueMessage) toQuote() (domain.VenueQuote, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("price: %w", err)
	}
	depth, err := decimal.NewFromString(m.Depth)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("depth: %w", err)
	}
	return domain.VenueQuote{
		Venue:    m.Venue,
		Router:   common.HexToAddress(m.Router),
		TokenIn:  common.HexToAddress(m.TokenIn),
		TokenOut: common.HexToAddress(m.TokenOut),
		Price:    price,
		Depth:    depth,
	}, nil
}

func (m *crossChainMessage) toDetail() (*domain.CrossChainDetail, error) {
	if m == nil {
		return nil, fmt.Errorf("missing cross_chain detail")
	}
	minOut, err := parseWei(m.MinGuaranteedOut, "min_guaranteed_out")
	if err != nil {
		return nil, err
	}
	return &domain.CrossChainDetail{
		SourceChainID:    m.SourceChainID,
		DestChainID:      m.DestChainID,
		Bridge:           common.HexToAddress(m.Bridge),
		Asset:            common.HexToAddress(m.Asset),
		MinGuaranteedOut: minOut,
		QuoteExpiry:      time.UnixMilli(m.QuoteExpiryMs),
	}, nil
}

func parseWei(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: not a base-10 integer: %q", field, s)
	}
	return v, nil
}
