// Package config loads and validates the workbench configuration from YAML.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/Schwaller/tradery/pkg/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(errors.ErrCodeConfigParse, "duration must be a string like \"30s\"", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeConfigParse, err, "invalid duration %q", raw)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root workbench configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" jsonschema:"title=Server,description=Observability HTTP server settings"`
	Cache     CacheConfig     `json:"cache" yaml:"cache" jsonschema:"title=Cache,description=Page cache tuning"`
	Store     StoreConfig     `json:"store" yaml:"store" jsonschema:"title=Store,description=Local persistence settings"`
	Providers ProvidersConfig `json:"providers" yaml:"providers" jsonschema:"title=Providers,description=Market data provider credentials"`
	LogLevel  string          `json:"logLevel" yaml:"log_level" jsonschema:"title=Log Level,enum=debug,enum=info,enum=warn,enum=error" validate:"omitempty,oneof=debug info warn error"`
}

// ServerConfig configures the snapshot and event HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" jsonschema:"title=Address,description=Listen address for the observability server (e.g. :8080)"`
}

// CacheConfig tunes page manager behavior. Zero values fall back to the
// manager defaults.
type CacheConfig struct {
	Workers      int      `json:"workers" yaml:"workers" jsonschema:"title=Workers,description=Fetch workers per page manager" validate:"gte=0"`
	QueueSize    int      `json:"queueSize" yaml:"queue_size" jsonschema:"title=Queue Size,description=Pending fetch queue capacity per page manager" validate:"gte=0"`
	GracePeriod  Duration `json:"gracePeriod" yaml:"grace_period" jsonschema:"title=Grace Period,description=How long an unreferenced page stays resident (e.g. 30s)"`
	FetchTimeout Duration `json:"fetchTimeout" yaml:"fetch_timeout" jsonschema:"title=Fetch Timeout,description=Per-request network deadline (e.g. 30s)"`
}

// StoreConfig configures the local DuckDB store. An empty path disables
// persistence.
type StoreConfig struct {
	Path string `json:"path" yaml:"path" jsonschema:"title=Path,description=DuckDB database path; empty disables the store"`
}

// ProvidersConfig holds credentials for the fetch backends. Binance public
// endpoints work without keys; Polygon always needs one.
type ProvidersConfig struct {
	Provider      string `json:"provider" yaml:"provider" jsonschema:"title=Provider,description=Candle data source,enum=binance,enum=polygon" validate:"omitempty,oneof=binance polygon"`
	BinanceKey    string `json:"binanceKey" yaml:"binance_key" jsonschema:"title=Binance API Key"`
	BinanceSecret string `json:"binanceSecret" yaml:"binance_secret" jsonschema:"title=Binance API Secret"`
	PolygonKey    string `json:"polygonKey" yaml:"polygon_key" jsonschema:"title=Polygon API Key,description=Required when provider is polygon"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Cache:    CacheConfig{},
		Store:    StoreConfig{Path: "tradery.db"},
		LogLevel: "info",
		Providers: ProvidersConfig{
			Provider: "binance",
		},
	}
}

// Load reads, parses, and validates a YAML configuration file.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeConfigNotFound, err, "failed to read config %s", path)
	}

	return Parse(content)
}

// Parse parses and validates YAML configuration content. Omitted fields keep
// their defaults.
func Parse(content []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeConfigParse, "failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "invalid config", err)
	}

	if c.Providers.Provider == "polygon" && c.Providers.PolygonKey == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "polygon provider requires a polygon api key")
	}

	return nil
}

// Schema returns the JSON schema of the configuration, for editor tooling.
func Schema() (string, error) {
	schema := jsonschema.Reflect(Config{})

	out, err := json.Marshal(schema)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeConfigInvalid, "failed to marshal schema", err)
	}

	return string(out), nil
}
