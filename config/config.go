package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del engine.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Feed     FeedConfig     `yaml:"feed"`
	Storage  StorageConfig  `yaml:"storage"`
	Telegram TelegramConfig `yaml:"telegram"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig controla el scheduler de clusters y los timeouts del ledger.
type EngineConfig struct {
	RefreshTickSeconds   int `yaml:"refresh_tick_seconds"`    // tick del scheduler de refresh
	ClusterMaxAgeMinutes int `yaml:"cluster_max_age_minutes"` // staleness por posición
	LedgerTimeoutMS      int `yaml:"ledger_timeout_ms"`       // timeout de persistencia por mutación
	RefreshWorkers       int `yaml:"refresh_workers"`
}

// OracleConfig apunta al servicio de clusters de liquidación.
type OracleConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"` // normalmente via ORACLE_API_KEY en .env
}

// FeedConfig controla el polling de precios.
type FeedConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Symbols     []string `yaml:"symbols"`
	PollSeconds int      `yaml:"poll_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// TelegramConfig habilita las notificaciones por Telegram.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"` // normalmente via TELEGRAM_TOKEN en .env
	ChatID  int64  `yaml:"chat_id"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// RefreshTick devuelve el tick del scheduler como time.Duration.
func (c *Config) RefreshTick() time.Duration {
	return time.Duration(c.Engine.RefreshTickSeconds) * time.Second
}

// ClusterMaxAge devuelve el umbral de staleness como time.Duration.
func (c *Config) ClusterMaxAge() time.Duration {
	return time.Duration(c.Engine.ClusterMaxAgeMinutes) * time.Minute
}

// LedgerTimeout devuelve el timeout de persistencia como time.Duration.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.Engine.LedgerTimeoutMS) * time.Millisecond
}

// PollInterval devuelve el intervalo de polling del feed.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.RefreshTickSeconds <= 0 {
		cfg.Engine.RefreshTickSeconds = 30
	}
	if cfg.Engine.ClusterMaxAgeMinutes <= 0 {
		cfg.Engine.ClusterMaxAgeMinutes = 10
	}
	if cfg.Engine.LedgerTimeoutMS <= 0 {
		cfg.Engine.LedgerTimeoutMS = 5000
	}
	if cfg.Engine.RefreshWorkers <= 0 {
		cfg.Engine.RefreshWorkers = 4
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "http://localhost:8090"
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://api.binance.com"
	}
	if cfg.Feed.PollSeconds <= 0 {
		cfg.Feed.PollSeconds = 5
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "vaultd.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
