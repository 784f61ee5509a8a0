// Package relay implements JSON-RPC bundle relay clients.
package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/circuitbreaker"
	"github.com/fd1az/mev-searcher/internal/httpclient"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/mev-searcher/business/submission/infra/relay"
	meterName  = "github.com/fd1az/mev-searcher/business/submission/infra/relay"

	defaultSubmitTimeout = 3 * time.Second
)

// ClientConfig holds configuration for one relay endpoint.
type ClientConfig struct {
	Endpoint          string
	SubmitTimeout     time.Duration
	RequestsPerMinute int
}

// Client submits bundles to a single relay over JSON-RPC. Submissions
// share a rate limiter with simulations so the relay quota holds.
type Client struct {
	name    string
	config  ClientConfig
	http    httpclient.Client
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.CircuitBreaker[*rpcResponse]
	logger  logger.LoggerInterface
	tracer  trace.Tracer
}

// NewClient creates a relay client for one endpoint. The name is the
// endpoint host, used by the manager for per-block channel dedup.
func NewClient(cfg ClientConfig, limiter *ratelimit.Limiter, log logger.LoggerInterface) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid relay endpoint %q: %w", cfg.Endpoint, err)
	}

	timeout := cfg.SubmitTimeout
	if timeout == 0 {
		timeout = defaultSubmitTimeout
	}

	tracer := otel.Tracer(tracerName)

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("relay-"+u.Host),
		httpclient.WithBaseURL(cfg.Endpoint),
		httpclient.WithRequestTimeout(timeout),
		httpclient.WithTraceOptions(tracer, httpclient.TraceRequest, httpclient.TraceResponse),
		httpclient.WithHeaders(map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &Client{
		name:    u.Host,
		config:  cfg,
		http:    client,
		limiter: limiter,
		breaker: circuitbreaker.New[*rpcResponse](circuitbreaker.DefaultConfig("relay-" + u.Host)),
		logger:  log,
		tracer:  tracer,
	}, nil
}

// Name identifies this relay channel.
func (c *Client) Name() string {
	return c.name
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("relay RPC error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type bundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`

	// StateBlockNumber is only set for simulation calls.
	StateBlockNumber string `json:"stateBlockNumber,omitempty"`
}

// SubmitBundle offers the signed transactions for one target block via
// eth_sendBundle.
func (c *Client) SubmitBundle(ctx context.Context, txs []domain.SignedTx, targetBlock uint64) error {
	ctx, span := c.tracer.Start(ctx, "relay.submit_bundle",
		trace.WithAttributes(
			attribute.String("channel", c.name),
			attribute.Int("txs", len(txs)),
			attribute.Int64("target_block", int64(targetBlock)),
		),
	)
	defer span.End()

	resp, err := c.call(ctx, "eth_sendBundle", bundleParams{
		Txs:         encodeTxs(txs),
		BlockNumber: hexBlock(targetBlock),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return apperror.New(apperror.CodeRelaySubmitFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("relay %s refused bundle", c.name)))
	}

	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
		return apperror.New(apperror.CodeRelayRejected,
			apperror.WithCause(resp.Error),
			apperror.WithContext(fmt.Sprintf("relay %s rejected bundle", c.name)))
	}

	span.SetStatus(codes.Ok, "accepted")
	c.logger.Debug(ctx, "bundle accepted by relay",
		"channel", c.name,
		"target_block", targetBlock,
		"txs", len(txs))

	return nil
}

// callBundleResult is the subset of the eth_callBundle response the
// simulator cares about.
type callBundleResult struct {
	Results []struct {
		Error  string `json:"error,omitempty"`
		Revert string `json:"revert,omitempty"`
	} `json:"results"`
}

// Simulate dry-runs the bundle against the parent of the target block
// via eth_callBundle. Any reverting transaction fails the whole bundle.
func (c *Client) Simulate(ctx context.Context, txs []domain.SignedTx, targetBlock uint64) error {
	ctx, span := c.tracer.Start(ctx, "relay.simulate_bundle",
		trace.WithAttributes(
			attribute.String("channel", c.name),
			attribute.Int64("target_block", int64(targetBlock)),
		),
	)
	defer span.End()

	resp, err := c.call(ctx, "eth_callBundle", bundleParams{
		Txs:              encodeTxs(txs),
		BlockNumber:      hexBlock(targetBlock),
		StateBlockNumber: "latest",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulation call failed")
		return apperror.New(apperror.CodeRelaySubmitFailed,
			apperror.WithCause(err),
			apperror.WithContext("bundle simulation call failed"))
	}

	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
		return apperror.New(apperror.CodeSimulationReverted,
			apperror.WithCause(resp.Error),
			apperror.WithContext("bundle simulation rejected"))
	}

	var result callBundleResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return apperror.New(apperror.CodeRelaySubmitFailed,
			apperror.WithCause(err),
			apperror.WithContext("malformed simulation response"))
	}

	for i, r := range result.Results {
		if r.Error != "" || r.Revert != "" {
			span.SetAttributes(attribute.Int("reverted_tx", i))
			span.SetStatus(codes.Error, "reverted")
			return apperror.New(apperror.CodeSimulationReverted,
				apperror.WithContext(fmt.Sprintf("tx %d reverted: %s%s", i, r.Error, r.Revert)))
		}
	}

	span.SetStatus(codes.Ok, "clean")
	return nil
}

func (c *Client) call(ctx context.Context, method string, params bundleParams) (*rpcResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []any{params},
	}

	return c.breaker.Execute(func() (*rpcResponse, error) {
		var result rpcResponse
		resp, err := c.http.NewRequestWithOptions(
			httpclient.WithLabels(
				httpclient.NewLabel("channel", c.name),
				httpclient.NewLabel("method", method),
			),
		).
			SetBody(req).
			SetResult(&result).
			Post(ctx, "")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.String())
		}
		return &result, nil
	})
}

func encodeTxs(txs []domain.SignedTx) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = "0x" + hex.EncodeToString(tx.Raw)
	}
	return out
}

func hexBlock(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}
