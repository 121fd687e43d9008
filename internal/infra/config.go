package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent identifies this client to the venue's REST API.
	DefaultUserAgent = "kalshi-agent/1.0"
)

// Config holds every tunable loaded at startup. Loaded via LoadConfig,
// then env-var overrides are applied for secrets so credentials never
// need to live in the checked-in file.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Kalshi struct {
		KeyID          string `yaml:"key_id"`
		PrivateKeyPath string `yaml:"private_key_path"`
		RestURL        string `yaml:"rest_url"`
		WSURL          string `yaml:"ws_url"`
		UseDemo        bool   `yaml:"use_demo"`
	} `yaml:"kalshi"`

	Trading struct {
		Tickers            []string `yaml:"tickers"`
		EntryThreshold      float64 `yaml:"entry_threshold"`
		ProfitTarget         float64 `yaml:"profit_target"`
		StopLoss             float64 `yaml:"stop_loss"`
		MaxPositionPct       float64 `yaml:"max_position_pct"`
		MaxExposurePct       float64 `yaml:"max_exposure_pct"`
		MaxPositions         int     `yaml:"max_positions"`
		MinPositionDollars   float64 `yaml:"min_position_dollars"`
		MinLiquidity         int64   `yaml:"min_liquidity"`
		MinVolume            int64   `yaml:"min_volume"`
		MaxSpread            float64 `yaml:"max_spread"`
		MaxHoldHours         float64 `yaml:"max_hold_hours"`
		CloseBufferMinutes   float64 `yaml:"close_buffer_minutes"`
		EntryTimeoutS        int     `yaml:"entry_timeout_s"`
		// PaperStartingBalance seeds the simulator's account when
		// paper_mode is true; ignored in live mode, where the starting
		// balance is fetched from the venue at boot.
		PaperStartingBalance float64 `yaml:"paper_starting_balance"`
	} `yaml:"trading"`

	Risk struct {
		DailyLossLimit       float64 `yaml:"daily_loss_limit"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		APIErrorRateLimit    float64 `yaml:"api_error_rate_limit"`
		StreamSilenceS       int     `yaml:"stream_silence_s"`
		StreamForceExitS     int     `yaml:"stream_force_exit_s"`
	} `yaml:"risk"`

	RateLimit struct {
		ReadPerSec  float64 `yaml:"read_rate"`
		WritePerSec float64 `yaml:"write_rate"`
	} `yaml:"rate_limit"`

	Notify struct {
		SMTPHost string `yaml:"smtp_host"`
		SMTPPort int    `yaml:"smtp_port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		To       string `yaml:"to"`
	} `yaml:"notify"`

	Storage struct {
		DBPath  string `yaml:"db_path"`
		WALPath string `yaml:"wal_path"`
	} `yaml:"storage"`

	Health struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"health"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	PaperMode bool `yaml:"paper_mode"`
}

// LoadConfig reads and parses the YAML config file, applies environment
// overrides for secrets, then validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration invariants before the process starts
// trading.
func (c *Config) Validate() error {
	if c.Kalshi.KeyID == "" {
		return fmt.Errorf("kalshi.key_id is required")
	}
	if c.Kalshi.PrivateKeyPath == "" {
		return fmt.Errorf("kalshi.private_key_path is required")
	}
	if c.Kalshi.RestURL == "" || (!hasPrefix(c.Kalshi.RestURL, "http://") && !hasPrefix(c.Kalshi.RestURL, "https://")) {
		return fmt.Errorf("invalid kalshi.rest_url: %s", c.Kalshi.RestURL)
	}
	if c.Kalshi.WSURL == "" || (!hasPrefix(c.Kalshi.WSURL, "ws://") && !hasPrefix(c.Kalshi.WSURL, "wss://")) {
		return fmt.Errorf("invalid kalshi.ws_url: %s", c.Kalshi.WSURL)
	}
	if len(c.Trading.Tickers) == 0 {
		return fmt.Errorf("at least one trading.ticker is required")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be positive")
	}
	if c.PaperMode && c.Trading.PaperStartingBalance <= 0 {
		return fmt.Errorf("trading.paper_starting_balance must be positive in paper mode")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment-variable overrides for secrets, so
// credentials never need to live in the checked-in config file.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("KALSHI_KEY_ID"); key != "" {
		cfg.Kalshi.KeyID = key
	}
	if path := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); path != "" {
		cfg.Kalshi.PrivateKeyPath = path
	}
	if user := os.Getenv("KALSHI_SMTP_USERNAME"); user != "" {
		cfg.Notify.Username = user
	}
	if pass := os.Getenv("KALSHI_SMTP_PASSWORD"); pass != "" {
		cfg.Notify.Password = pass
	}
}
