package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/ratelimit"
)

// mockLogger implements logger.LoggerInterface for testing.
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) With(args ...any) logger.LoggerInterface                         { return m }

func testTxs() []domain.SignedTx {
	return []domain.SignedTx{
		{Raw: []byte{0x01, 0x02}, Hash: common.HexToHash("0xaa")},
		{Raw: []byte{0x03, 0x04}, Hash: common.HexToHash("0xbb")},
	}
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{Endpoint: endpoint}, ratelimit.New(600), &mockLogger{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClientSubmitBundle(t *testing.T) {
	var got rpcRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"result": map[string]string{"bundleHash": "0xdeadbeef"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.SubmitBundle(context.Background(), testTxs(), 0x12345); err != nil {
		t.Fatalf("SubmitBundle: %v", err)
	}

	if got.Method != "eth_sendBundle" {
		t.Errorf("method = %q, want eth_sendBundle", got.Method)
	}
	if len(got.Params) != 1 {
		t.Fatalf("params = %d, want 1", len(got.Params))
	}

	// Verify wire encoding of the bundle params.
	raw, _ := json.Marshal(got.Params[0])
	var params bundleParams
	if err := json.Unmarshal(raw, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.BlockNumber != "0x12345" {
		t.Errorf("blockNumber = %q, want 0x12345", params.BlockNumber)
	}
	if len(params.Txs) != 2 || params.Txs[0] != "0x0102" || params.Txs[1] != "0x0304" {
		t.Errorf("txs = %v, want hex-prefixed raw transactions", params.Txs)
	}
	if params.StateBlockNumber != "" {
		t.Errorf("stateBlockNumber = %q, want empty for submission", params.StateBlockNumber)
	}
}

func TestClientSubmitBundleRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32000, "message": "bundle underpriced"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SubmitBundle(context.Background(), testTxs(), 100)
	if !apperror.HasCode(err, apperror.CodeRelayRejected) {
		t.Fatalf("got %v, want RELAY_REJECTED", err)
	}
}

func TestClientSubmitBundleTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SubmitBundle(context.Background(), testTxs(), 100)
	if !apperror.HasCode(err, apperror.CodeRelaySubmitFailed) {
		t.Fatalf("got %v, want RELAY_SUBMIT_FAILED", err)
	}
}

func TestClientSimulate(t *testing.T) {
	tests := []struct {
		name     string
		results  []map[string]string
		wantCode apperror.Code
	}{
		{
			name:    "clean bundle",
			results: []map[string]string{{}, {}},
		},
		{
			name:     "reverting tx fails the bundle",
			results:  []map[string]string{{}, {"revert": "0x08c379a0"}},
			wantCode: apperror.CodeSimulationReverted,
		},
		{
			name:     "erroring tx fails the bundle",
			results:  []map[string]string{{"error": "nonce too low"}},
			wantCode: apperror.CodeSimulationReverted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got rpcRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode request: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0", "id": 1,
					"result": map[string]any{"results": tt.results},
				})
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			err := client.Simulate(context.Background(), testTxs(), 100)

			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Simulate: %v", err)
				}
			} else if !apperror.HasCode(err, tt.wantCode) {
				t.Fatalf("got %v, want %s", err, tt.wantCode)
			}

			if got.Method != "eth_callBundle" {
				t.Errorf("method = %q, want eth_callBundle", got.Method)
			}
			raw, _ := json.Marshal(got.Params[0])
			var params bundleParams
			if err := json.Unmarshal(raw, &params); err != nil {
				t.Fatalf("unmarshal params: %v", err)
			}
			if params.StateBlockNumber != "latest" {
				t.Errorf("stateBlockNumber = %q, want latest", params.StateBlockNumber)
			}
		})
	}
}

func TestClientNameIsEndpointHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	u, _ := url.Parse(server.URL)
	if client.Name() != u.Host {
		t.Errorf("Name() = %q, want %q", client.Name(), u.Host)
	}
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	if _, err := NewClient(ClientConfig{Endpoint: "not a url"}, ratelimit.New(600), &mockLogger{}); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}
