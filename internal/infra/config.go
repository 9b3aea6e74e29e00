package infra

import (
	"fmt"
	"os"
	"time"

	"matching_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// AssetConfig declares one currency and whether it accepts operations.
type AssetConfig struct {
	ID      string `yaml:"id"`
	Enabled bool   `yaml:"enabled"`
}

// InstrumentConfig declares one tradeable pair.
type InstrumentConfig struct {
	ID        string          `yaml:"id"`
	Base      string          `yaml:"base"`
	Quote     string          `yaml:"quote"`
	Accuracy  int32           `yaml:"accuracy"`
	MinVolume decimal.Decimal `yaml:"min_volume"`
}

// Config holds every setting consumed by the engine.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		InboxSize      int `yaml:"inbox_size"`
		OutboundBuffer int `yaml:"outbound_buffer"`
		MidPrice       struct {
			RetentionMS       int64 `yaml:"retention_ms"`
			MaxRecalculations int   `yaml:"max_recalculations"`
		} `yaml:"mid_price"`
		DedupRetentionMS int64 `yaml:"dedup_retention_ms"`
	} `yaml:"engine"`

	Assets      []AssetConfig      `yaml:"assets"`
	Instruments []InstrumentConfig `yaml:"instruments"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Outbound struct {
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		WSListen string `yaml:"ws_listen"`
	} `yaml:"outbound"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
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

// overrideWithEnv lets deployment environments redirect paths without
// editing the file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("ENGINE_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Engine.InboxSize <= 0 {
		return fmt.Errorf("engine inbox size must be positive")
	}
	if c.Engine.MidPrice.RetentionMS <= 0 {
		return fmt.Errorf("mid price retention must be positive")
	}
	if c.Engine.MidPrice.MaxRecalculations < 0 {
		return fmt.Errorf("mid price max recalculations must not be negative")
	}

	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	assets := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if a.ID == "" {
			return fmt.Errorf("asset with empty id")
		}
		assets[a.ID] = true
	}
	for _, ins := range c.Instruments {
		if ins.ID == "" {
			return fmt.Errorf("instrument with empty id")
		}
		if !assets[ins.Base] || !assets[ins.Quote] {
			return fmt.Errorf("instrument %s references unknown asset (%s/%s)",
				ins.ID, ins.Base, ins.Quote)
		}
		if ins.Accuracy < 0 {
			return fmt.Errorf("instrument %s: negative accuracy", ins.ID)
		}
		if ins.MinVolume.IsNegative() {
			return fmt.Errorf("instrument %s: negative min volume", ins.ID)
		}
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	return nil
}

// MidPriceRetention returns the retention window as a duration.
func (c *Config) MidPriceRetention() time.Duration {
	return time.Duration(c.Engine.MidPrice.RetentionMS) * time.Millisecond
}

// DedupRetention returns the processed-message retention horizon. Zero
// means keep forever.
func (c *Config) DedupRetention() time.Duration {
	return time.Duration(c.Engine.DedupRetentionMS) * time.Millisecond
}

// AssetTable builds the lookup map used by the dispatcher.
func (c *Config) AssetTable() map[string]domain.Asset {
	out := make(map[string]domain.Asset, len(c.Assets))
	for _, a := range c.Assets {
		out[a.ID] = domain.Asset{ID: a.ID, Enabled: a.Enabled}
	}
	return out
}

// InstrumentTable builds the asset pair lookup map.
func (c *Config) InstrumentTable() map[string]*domain.AssetPair {
	out := make(map[string]*domain.AssetPair, len(c.Instruments))
	for _, ins := range c.Instruments {
		out[ins.ID] = &domain.AssetPair{
			ID:        ins.ID,
			Base:      ins.Base,
			Quote:     ins.Quote,
			Accuracy:  ins.Accuracy,
			MinVolume: ins.MinVolume,
		}
	}
	return out
}
