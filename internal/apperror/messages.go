package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Blockchain/Ethereum errors
	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumSubscribeFailed:  "Failed to subscribe to Ethereum events",
	CodeEthereumRPCError:         "Ethereum RPC call failed",
	CodeReceiptNotFound:          "Transaction receipt not found",
	CodeBlockNotFound:            "Block not found",
	CodeGasEstimationFailed:      "Gas estimation failed",
	CodeNonceAllocationFailed:    "Nonce allocation failed",

	// Candidate gate errors
	CodeCandidateExpired:     "Candidate expired before evaluation",
	CodeInsufficientMargin:   "Net margin below required threshold",
	CodeConcurrencyLimit:     "Concurrent in-flight limit reached",
	CodeSizeBelowMinimum:     "Candidate size below configured minimum",
	CodeCandidateAlreadySeen: "Candidate already evaluated",
	CodeInvalidCandidate:     "Candidate failed validation",

	// Plan composition errors
	CodeQuoteStale:    "Quote is stale",
	CodeNoViableRoute: "No viable execution route",
	CodeUnsafeMinOut:  "Computed minimum output is unsafe",
	CodePlanImmutable: "Plan is immutable after handoff",
	CodeRepayMismatch: "Flash loan repay amount mismatch",

	// Gas strategy errors
	CodeFeeAbandon:      "Competitive fee would erase profit, abandoning",
	CodeGasPriceCeiling: "Required fee exceeds max gas price",

	// Submission errors
	CodeRelaySubmitFailed:  "Relay bundle submission failed",
	CodeRelayRejected:      "Relay rejected the bundle",
	CodeAllChannelsFailed:  "All relay channels failed",
	CodeCapacityExceeded:   "Submission capacity exceeded",
	CodeBundleTerminal:     "Bundle already in terminal state",
	CodeSimulationReverted: "Bundle simulation reverted",

	// WebSocket errors
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketReconnecting:    "WebSocket reconnecting",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	// Cache errors
	CodeCacheMiss:    "Cache miss",
	CodeCacheExpired: "Cache entry expired",

	// Circuit breaker errors
	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
