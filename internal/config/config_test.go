package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Schwaller/tradery/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg := Default()

	s.Equal(":8080", cfg.Server.Addr)
	s.Equal("binance", cfg.Providers.Provider)
	s.Equal("info", cfg.LogLevel)
	s.NoError(cfg.Validate())
}

func (s *ConfigTestSuite) TestParseOverridesDefaults() {
	cfg, err := Parse([]byte(`
server:
  addr: ":9090"
cache:
  workers: 8
  grace_period: 1m
store:
  path: ""
log_level: debug
`))
	s.Require().NoError(err)

	s.Equal(":9090", cfg.Server.Addr)
	s.Equal(8, cfg.Cache.Workers)
	s.Equal(time.Minute, cfg.Cache.GracePeriod.Std())
	s.Empty(cfg.Store.Path)
	s.Equal("debug", cfg.LogLevel)

	// Untouched sections keep their defaults.
	s.Equal("binance", cfg.Providers.Provider)
}

func (s *ConfigTestSuite) TestParseRejectsMalformedYAML() {
	_, err := Parse([]byte("server: [not a map"))
	s.True(errors.HasCode(err, errors.ErrCodeConfigParse))
}

func (s *ConfigTestSuite) TestRejectsUnknownLogLevel() {
	_, err := Parse([]byte("log_level: verbose"))
	s.True(errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func (s *ConfigTestSuite) TestRejectsUnknownProvider() {
	_, err := Parse([]byte(`
providers:
  provider: kraken
`))
	s.True(errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func (s *ConfigTestSuite) TestPolygonRequiresKey() {
	_, err := Parse([]byte(`
providers:
  provider: polygon
`))
	s.True(errors.HasCode(err, errors.ErrCodeConfigInvalid))

	cfg, err := Parse([]byte(`
providers:
  provider: polygon
  polygon_key: pk-test
`))
	s.Require().NoError(err)
	s.Equal("pk-test", cfg.Providers.PolygonKey)
}

func (s *ConfigTestSuite) TestLoadMissingFile() {
	_, err := Load("/nonexistent/config.yaml")
	s.True(errors.HasCode(err, errors.ErrCodeConfigNotFound))
}

func (s *ConfigTestSuite) TestSchemaReflectsConfig() {
	schema, err := Schema()
	s.Require().NoError(err)

	s.Contains(schema, "Providers")
	s.Contains(schema, "logLevel")
}
