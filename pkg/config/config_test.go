package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `environment: test
server:
  port: 8080
clickhouse:
  host: localhost
postgres:
  host: localhost
  database: vegecast
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Metrics.Path != "/metrics" {
		t.Fatalf("metrics path default = %q, want /metrics", c.Metrics.Path)
	}
	if c.Forecast.LookAheadYears != 1 {
		t.Fatalf("look-ahead default = %d, want 1", c.Forecast.LookAheadYears)
	}
	if c.Forecast.Region != "Hiroshima" {
		t.Fatalf("region default = %q", c.Forecast.Region)
	}
	if c.Forecast.HistoricalYears != 5 || c.Forecast.MinRequiredYears != 2 {
		t.Fatalf("window defaults = %d/%d", c.Forecast.HistoricalYears, c.Forecast.MinRequiredYears)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	body := minimalYAML + `metrics:
  enabled: true
  path: /internal/metrics
forecast:
  look_ahead_years: 3
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !c.Metrics.Enabled || c.Metrics.Path != "/internal/metrics" {
		t.Fatalf("metrics = %+v", c.Metrics)
	}
	if c.Forecast.LookAheadYears != 3 {
		t.Fatalf("look-ahead = %d, want 3", c.Forecast.LookAheadYears)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	if _, err := Load(writeConfig(t, "environment: test\n")); err == nil {
		t.Fatalf("expected validation error for missing server.port")
	}
}

func TestPostgresDSN(t *testing.T) {
	c, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := "host=localhost port=0 user= password= dbname=vegecast sslmode=disable"
	if got := c.PostgresDSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}
