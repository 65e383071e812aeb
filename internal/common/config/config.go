// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig              `mapstructure:"app"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Chains     map[string]ChainConfig `mapstructure:"chains"`
	Routing    RoutingConfig          `mapstructure:"routing"`
	Policy     PolicyConfig           `mapstructure:"policy"`
	Resilience ResilienceConfig       `mapstructure:"resilience"`
	Execution  ExecutionConfig        `mapstructure:"execution"`
	Alerting   AlertingConfig         `mapstructure:"alerting"`
	Pricing    PricingConfig          `mapstructure:"pricing"`
	Audit      AuditConfig            `mapstructure:"audit"`
	Logging    LoggingConfig          `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	ListenAddr  string `mapstructure:"listen_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Enabled   bool     `mapstructure:"enabled"`
}

// GetURL returns the first configured address.
func (e ElasticsearchConfig) GetURL() string {
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// --- Chain / Routing Config ---

// ChainConfig holds per-chain connection and signing settings. A chain with
// an empty SignerKey can only serve proof_only/offchain routes.
type ChainConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	Network     string `mapstructure:"network"`
	ChainID     int64  `mapstructure:"chain_id"`
	ExplorerURL string `mapstructure:"explorer_url"`
	SignerKey   string `mapstructure:"signer_key"`
	Enabled     bool   `mapstructure:"enabled"`
}

// HasSigner reports whether a signing key is configured for this chain.
func (c ChainConfig) HasSigner() bool {
	return c.SignerKey != ""
}

type RoutingConfig struct {
	DefaultChain string `mapstructure:"default_chain"`
	// Adapters flags which venue adapters are wired in this deployment,
	// e.g. adapters["hyperliquid"] = true.
	Adapters map[string]bool `mapstructure:"adapters"`
}

// --- Policy Config ---

// PolicyConfig holds the confirmation thresholds evaluated by the path
// policy engine. Thresholds are USD notional estimates.
type PolicyConfig struct {
	ExecutionConfirmUSD float64 `mapstructure:"execution_confirm_usd"`
	BridgeConfirmUSD    float64 `mapstructure:"bridge_confirm_usd"`
	PerpConfirmUSD      float64 `mapstructure:"perp_confirm_usd"`
	MaxTransitionDepth  int     `mapstructure:"max_transition_depth"`
}

// --- Resilience Config ---

type ResilienceConfig struct {
	MaxAttempts  int            `mapstructure:"max_attempts"`
	BaseDelayMs  int            `mapstructure:"base_delay_ms"`
	MaxDelayMs   int            `mapstructure:"max_delay_ms"`
	JitterFactor float64        `mapstructure:"jitter_factor"`
	MaxTokens    int            `mapstructure:"max_tokens"`
	// RateLimits maps external service name to a requests-per-minute budget.
	RateLimits map[string]int `mapstructure:"rate_limits"`
}

// --- Execution Config ---

type ExecutionConfig struct {
	ConfirmTimeoutMs int    `mapstructure:"confirm_timeout_ms"`
	ReceiptPollMs    int    `mapstructure:"receipt_poll_ms"`
	GasLimit         uint64 `mapstructure:"gas_limit"`
}

// --- Alerting Config ---

type AlertingConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"ses"`
}

// --- Pricing Config ---

type PricingConfig struct {
	CacheTTLSeconds int                `mapstructure:"cache_ttl_seconds"`
	StaticPrices    map[string]float64 `mapstructure:"static_prices"`
}

// --- Audit Config ---

type AuditConfig struct {
	ViolationRingSize int    `mapstructure:"violation_ring_size"`
	SigningRingSize   int    `mapstructure:"signing_ring_size"`
	ESIndex           string `mapstructure:"es_index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
