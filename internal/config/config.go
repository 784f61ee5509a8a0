// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Relays     RelaysConfig     `mapstructure:"relays"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Gas        GasConfig        `mapstructure:"gas"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// EthereumConfig holds Ethereum node configuration.
type EthereumConfig struct {
	WebSocketURL   string        `mapstructure:"websocket_url"`
	HTTPURL        string        `mapstructure:"http_url"`
	ChainID        uint64        `mapstructure:"chain_id"`
	SenderAddress  string        `mapstructure:"sender_address"`
	PrivateKey     string        `mapstructure:"private_key"` // hex, env-only, never in config files
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// SenderAddressHex returns the sender address as common.Address.
func (c *EthereumConfig) SenderAddressHex() common.Address {
	return common.HexToAddress(c.SenderAddress)
}

// RelaysConfig holds bundle relay configuration.
type RelaysConfig struct {
	Endpoints            []string      `mapstructure:"endpoints"` // ordered, primary first
	SubmitTimeout        time.Duration `mapstructure:"submit_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	MaxConcurrentBundles int           `mapstructure:"max_concurrent_bundles"`
	QueueWait            time.Duration `mapstructure:"queue_wait"` // bounded wait before CapacityExceeded
	RequestsPerMinute    int           `mapstructure:"requests_per_minute"`
	SimulateBeforeSubmit bool          `mapstructure:"simulate_before_submit"`
}

// RiskConfig holds hard caps enforced by the profitability gate.
type RiskConfig struct {
	MaxNotionalETH     float64 `mapstructure:"max_notional_eth"`
	MaxInFlightPerKind int     `mapstructure:"max_in_flight_per_kind"`
	MaxSlippageBps     float64 `mapstructure:"max_slippage_bps"`
	MinProfitETH       float64 `mapstructure:"min_profit_eth"`
	MinTargetValueETH  float64 `mapstructure:"min_target_value_eth"`
	BaseRiskPremiumETH float64 `mapstructure:"base_risk_premium_eth"`
	ConfidenceFloor    float64 `mapstructure:"confidence_floor"`
	KellyRiskFactor    float64 `mapstructure:"kelly_risk_factor"` // 0.5 = half Kelly
	AllowNonAtomicLegs bool    `mapstructure:"allow_non_atomic_legs"`
}

// MaxNotionalDecimal returns the max notional as decimal.Decimal.
func (c *RiskConfig) MaxNotionalDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxNotionalETH)
}

// MinProfitDecimal returns the absolute profit floor as decimal.Decimal.
func (c *RiskConfig) MinProfitDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinProfitETH)
}

// MinTargetValueDecimal returns the minimum target value as decimal.Decimal.
func (c *RiskConfig) MinTargetValueDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinTargetValueETH)
}

// BaseRiskPremiumDecimal returns the base risk premium as decimal.Decimal.
func (c *RiskConfig) BaseRiskPremiumDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.BaseRiskPremiumETH)
}

// GasConfig holds fee strategy configuration.
type GasConfig struct {
	BasePriorityGwei   float64 `mapstructure:"base_priority_gwei"`
	MaxGasPriceGwei    float64 `mapstructure:"max_gas_price_gwei"`
	BaseFeeHeadroom    float64 `mapstructure:"base_fee_headroom"`   // e.g. 1.2
	PriorityHeadroom   float64 `mapstructure:"priority_headroom"`   // e.g. 1.1
	DefaultGasLimit    uint64  `mapstructure:"default_gas_limit"`
	GasCacheTTLSeconds int     `mapstructure:"gas_cache_ttl_seconds"`
}

// StrategiesConfig holds per-strategy composition parameters.
type StrategiesConfig struct {
	Sandwich    SandwichConfig    `mapstructure:"sandwich"`
	Liquidation LiquidationConfig `mapstructure:"liquidation"`
	MicroArb    MicroArbConfig    `mapstructure:"micro_arbitrage"`
	CrossChain  CrossChainConfig  `mapstructure:"cross_chain"`
}

// SandwichConfig holds sandwich composition parameters.
type SandwichConfig struct {
	MaxFrontrunETH float64 `mapstructure:"max_frontrun_eth"`
	PoolFeeBps     float64 `mapstructure:"pool_fee_bps"` // 30 = 0.30%
	RouterAddress  string  `mapstructure:"router_address"`
}

// LiquidationConfig holds liquidation composition parameters.
type LiquidationConfig struct {
	FlashLoanProvider string  `mapstructure:"flash_loan_provider"`
	PremiumBps        uint64  `mapstructure:"premium_bps"` // Aave V3: 9 = 0.09%
	MinOutFloorETH    float64 `mapstructure:"min_out_floor_eth"`
	PreferFlashLoan   bool    `mapstructure:"prefer_flash_loan"`
}

// MicroArbConfig holds micro-arbitrage composition parameters.
type MicroArbConfig struct {
	LegTimeout     time.Duration `mapstructure:"leg_timeout"`
	SlippageTolBps float64       `mapstructure:"slippage_tolerance_bps"`
}

// CrossChainConfig holds cross-chain composition parameters.
type CrossChainConfig struct {
	QuoteTTL      time.Duration `mapstructure:"quote_ttl"`
	BridgeAddress string        `mapstructure:"bridge_address"`
}

// PipelineConfig holds worker and queue sizing.
type PipelineConfig struct {
	IntakeDepth     int           `mapstructure:"intake_depth"` // candidates dropped beyond this
	Workers         int           `mapstructure:"workers"`
	EvaluateTimeout time.Duration `mapstructure:"evaluate_timeout"`
}

// DetectorConfig holds the external candidate feed configuration.
type DetectorConfig struct {
	FeedURL   string        `mapstructure:"feed_url"` // empty disables the feed
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("MEV")
	v.AutomaticEnv()

	// Bind env vars to config keys
	bindEnvVars(v)

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "MEV_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "MEV_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "MEV_LOG_LEVEL", "LOG_LEVEL")

	// Ethereum
	v.BindEnv("ethereum.websocket_url", "MEV_ETH_WS_URL", "ETH_WS_URL")
	v.BindEnv("ethereum.http_url", "MEV_ETH_HTTP_URL", "ETH_HTTP_URL")
	v.BindEnv("ethereum.chain_id", "MEV_ETH_CHAIN_ID", "ETH_CHAIN_ID")
	v.BindEnv("ethereum.sender_address", "MEV_SENDER_ADDRESS", "SENDER_ADDRESS")
	v.BindEnv("ethereum.private_key", "MEV_PRIVATE_KEY", "PRIVATE_KEY")

	// Relays
	v.BindEnv("relays.endpoints", "MEV_RELAY_ENDPOINTS")
	v.BindEnv("relays.max_concurrent_bundles", "MEV_MAX_CONCURRENT_BUNDLES")

	// Risk
	v.BindEnv("risk.max_notional_eth", "MEV_MAX_NOTIONAL_ETH")
	v.BindEnv("risk.min_profit_eth", "MEV_MIN_PROFIT_ETH")
	v.BindEnv("risk.max_in_flight_per_kind", "MEV_MAX_IN_FLIGHT_PER_KIND")

	// Gas
	v.BindEnv("gas.max_gas_price_gwei", "MEV_MAX_GAS_PRICE_GWEI")
	v.BindEnv("gas.base_priority_gwei", "MEV_BASE_PRIORITY_GWEI")

	// Strategies
	v.BindEnv("strategies.liquidation.flash_loan_provider", "MEV_FLASH_LOAN_PROVIDER")
	v.BindEnv("strategies.liquidation.premium_bps", "MEV_FLASH_LOAN_PREMIUM_BPS")
	v.BindEnv("strategies.sandwich.router_address", "MEV_SANDWICH_ROUTER")

	// Detector
	v.BindEnv("detector.feed_url", "MEV_DETECTOR_FEED_URL", "DETECTOR_FEED_URL")

	// Telemetry
	v.BindEnv("telemetry.enabled", "MEV_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "MEV_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "MEV_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "mev-searcher")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Ethereum defaults
	v.SetDefault("ethereum.chain_id", 1)
	v.SetDefault("ethereum.max_reconnects", 0) // infinite
	v.SetDefault("ethereum.initial_backoff", "1s")
	v.SetDefault("ethereum.max_backoff", "30s")

	// Relay defaults
	v.SetDefault("relays.endpoints", []string{"https://relay.flashbots.net"})
	v.SetDefault("relays.submit_timeout", "3s")
	v.SetDefault("relays.poll_interval", "2s")
	v.SetDefault("relays.max_concurrent_bundles", 8)
	v.SetDefault("relays.queue_wait", "250ms")
	v.SetDefault("relays.requests_per_minute", 120)
	v.SetDefault("relays.simulate_before_submit", true)

	// Risk defaults
	v.SetDefault("risk.max_notional_eth", 50.0)
	v.SetDefault("risk.max_in_flight_per_kind", 2)
	v.SetDefault("risk.max_slippage_bps", 50.0)
	v.SetDefault("risk.min_profit_eth", 0.005)
	v.SetDefault("risk.min_target_value_eth", 0.5)
	v.SetDefault("risk.base_risk_premium_eth", 0.001)
	v.SetDefault("risk.confidence_floor", 0.3)
	v.SetDefault("risk.kelly_risk_factor", 0.5)
	v.SetDefault("risk.allow_non_atomic_legs", false)

	// Gas defaults
	v.SetDefault("gas.base_priority_gwei", 1.5)
	v.SetDefault("gas.max_gas_price_gwei", 500.0)
	v.SetDefault("gas.base_fee_headroom", 1.2)
	v.SetDefault("gas.priority_headroom", 1.1)
	v.SetDefault("gas.default_gas_limit", 500000)
	v.SetDefault("gas.gas_cache_ttl_seconds", 12) // ~1 block

	// Strategy defaults
	v.SetDefault("strategies.sandwich.max_frontrun_eth", 10.0)
	v.SetDefault("strategies.sandwich.pool_fee_bps", 30.0)
	v.SetDefault("strategies.sandwich.router_address", "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
	v.SetDefault("strategies.liquidation.flash_loan_provider", "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	v.SetDefault("strategies.liquidation.premium_bps", 9) // Aave V3 flash loan premium
	v.SetDefault("strategies.liquidation.min_out_floor_eth", 0.0001)
	v.SetDefault("strategies.liquidation.prefer_flash_loan", true)
	v.SetDefault("strategies.micro_arbitrage.leg_timeout", "800ms")
	v.SetDefault("strategies.micro_arbitrage.slippage_tolerance_bps", 20.0)
	v.SetDefault("strategies.cross_chain.quote_ttl", "30s")
	v.SetDefault("strategies.cross_chain.bridge_address", "0x3a23F943181408EAC424116Af7b7790c94Cb97a5")

	// Pipeline defaults
	v.SetDefault("pipeline.intake_depth", 64)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.evaluate_timeout", "500ms")

	// Detector defaults
	v.SetDefault("detector.feed_url", "")
	v.SetDefault("detector.dedupe_ttl", "30s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "mev-searcher")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Ethereum.HTTPURL == "" {
		return fmt.Errorf("ethereum.http_url is required")
	}
	if len(c.Relays.Endpoints) == 0 {
		return fmt.Errorf("relays.endpoints cannot be empty")
	}
	if c.Relays.MaxConcurrentBundles <= 0 {
		return fmt.Errorf("relays.max_concurrent_bundles must be positive")
	}
	if c.Risk.MinProfitETH < 0 {
		return fmt.Errorf("risk.min_profit_eth cannot be negative")
	}
	if c.Risk.ConfidenceFloor < 0 || c.Risk.ConfidenceFloor > 1 {
		return fmt.Errorf("risk.confidence_floor must be in [0,1]")
	}
	if !common.IsHexAddress(c.Strategies.Liquidation.FlashLoanProvider) {
		return fmt.Errorf("invalid strategies.liquidation.flash_loan_provider: %s", c.Strategies.Liquidation.FlashLoanProvider)
	}
	if !common.IsHexAddress(c.Strategies.Sandwich.RouterAddress) {
		return fmt.Errorf("invalid strategies.sandwich.router_address: %s", c.Strategies.Sandwich.RouterAddress)
	}
	if c.Gas.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("gas.max_gas_price_gwei must be positive")
	}
	if c.Pipeline.IntakeDepth <= 0 {
		return fmt.Errorf("pipeline.intake_depth must be positive")
	}
	return nil
}
