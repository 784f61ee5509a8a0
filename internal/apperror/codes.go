package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Searcher-specific error codes
const (
	// Blockchain/Ethereum errors
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumSubscribeFailed  Code = "ETHEREUM_SUBSCRIBE_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeReceiptNotFound          Code = "RECEIPT_NOT_FOUND"
	CodeBlockNotFound            Code = "BLOCK_NOT_FOUND"
	CodeGasEstimationFailed      Code = "GAS_ESTIMATION_FAILED"
	CodeNonceAllocationFailed    Code = "NONCE_ALLOCATION_FAILED"

	// Candidate gate errors
	CodeCandidateExpired     Code = "CANDIDATE_EXPIRED"
	CodeInsufficientMargin   Code = "INSUFFICIENT_MARGIN"
	CodeConcurrencyLimit     Code = "CONCURRENCY_LIMIT_REACHED"
	CodeSizeBelowMinimum     Code = "SIZE_BELOW_MINIMUM"
	CodeCandidateAlreadySeen Code = "CANDIDATE_ALREADY_SEEN"
	CodeInvalidCandidate     Code = "INVALID_CANDIDATE"

	// Plan composition errors
	CodeQuoteStale    Code = "QUOTE_STALE"
	CodeNoViableRoute Code = "NO_VIABLE_ROUTE"
	CodeUnsafeMinOut  Code = "UNSAFE_MIN_OUT"
	CodePlanImmutable Code = "PLAN_IMMUTABLE"
	CodeRepayMismatch Code = "REPAY_MISMATCH"

	// Gas strategy errors
	CodeFeeAbandon      Code = "FEE_ABANDON"
	CodeGasPriceCeiling Code = "GAS_PRICE_CEILING"

	// Submission errors
	CodeRelaySubmitFailed  Code = "RELAY_SUBMIT_FAILED"
	CodeRelayRejected      Code = "RELAY_REJECTED"
	CodeAllChannelsFailed  Code = "ALL_CHANNELS_FAILED"
	CodeCapacityExceeded   Code = "CAPACITY_EXCEEDED"
	CodeBundleTerminal     Code = "BUNDLE_TERMINAL"
	CodeSimulationReverted Code = "SIMULATION_REVERTED"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketReconnecting    Code = "WEBSOCKET_RECONNECTING"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Cache errors
	CodeCacheMiss    Code = "CACHE_MISS"
	CodeCacheExpired Code = "CACHE_EXPIRED"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
