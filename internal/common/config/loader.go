// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overrides, e.g. config.production.yaml
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or any ancestor holding go.mod.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)
		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "intentflow"
	}
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":8090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Routing.DefaultChain == "" {
		cfg.Routing.DefaultChain = "ethereum"
	}

	if cfg.Policy.ExecutionConfirmUSD == 0 {
		cfg.Policy.ExecutionConfirmUSD = 10000
	}
	if cfg.Policy.BridgeConfirmUSD == 0 {
		cfg.Policy.BridgeConfirmUSD = 25000
	}
	if cfg.Policy.PerpConfirmUSD == 0 {
		cfg.Policy.PerpConfirmUSD = 5000
	}
	if cfg.Policy.MaxTransitionDepth == 0 {
		cfg.Policy.MaxTransitionDepth = 50
	}

	if cfg.Resilience.MaxAttempts == 0 {
		cfg.Resilience.MaxAttempts = 3
	}
	if cfg.Resilience.BaseDelayMs == 0 {
		cfg.Resilience.BaseDelayMs = 250
	}
	if cfg.Resilience.MaxDelayMs == 0 {
		cfg.Resilience.MaxDelayMs = 10000
	}
	if cfg.Resilience.JitterFactor == 0 {
		cfg.Resilience.JitterFactor = 0.2
	}
	if cfg.Resilience.MaxTokens == 0 {
		cfg.Resilience.MaxTokens = 10
	}

	if cfg.Execution.ConfirmTimeoutMs == 0 {
		cfg.Execution.ConfirmTimeoutMs = 60000
	}
	if cfg.Execution.ReceiptPollMs == 0 {
		cfg.Execution.ReceiptPollMs = 2000
	}
	if cfg.Execution.GasLimit == 0 {
		cfg.Execution.GasLimit = 100000
	}

	if cfg.Pricing.CacheTTLSeconds == 0 {
		cfg.Pricing.CacheTTLSeconds = 60
	}

	if cfg.Audit.ViolationRingSize == 0 {
		cfg.Audit.ViolationRingSize = 256
	}
	if cfg.Audit.SigningRingSize == 0 {
		cfg.Audit.SigningRingSize = 256
	}
	if cfg.Audit.ESIndex == "" {
		cfg.Audit.ESIndex = "intentflow-audit"
	}
}

func validateConfig(cfg *Config) error {
	for name, chain := range cfg.Chains {
		if chain.Enabled && chain.RPCURL == "" {
			return fmt.Errorf("chain %q is enabled but has no rpc_url", name)
		}
	}
	if _, ok := cfg.Chains[cfg.Routing.DefaultChain]; len(cfg.Chains) > 0 && !ok {
		return fmt.Errorf("default chain %q is not configured", cfg.Routing.DefaultChain)
	}
	return nil
}
