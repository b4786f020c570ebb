// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

const validConfig = `
history:
  directory: /var/lib/battery-history
  max_files: 32
  max_buffer_bytes: 4096
sampler:
  poll_interval: 30s
  energy_interval: 5m
logging:
  level: info
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.History.Directory != "/var/lib/battery-history" {
		t.Errorf("History.Directory = %v, want /var/lib/battery-history", cfg.History.Directory)
	}
	if cfg.History.MaxFiles != 32 {
		t.Errorf("History.MaxFiles = %v, want 32", cfg.History.MaxFiles)
	}
	if cfg.History.MaxBufferBytes != 4096 {
		t.Errorf("History.MaxBufferBytes = %v, want 4096", cfg.History.MaxBufferBytes)
	}
	if cfg.Sampler.PollInterval != 30*time.Second {
		t.Errorf("Sampler.PollInterval = %v, want 30s", cfg.Sampler.PollInterval)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
history:
  directory: /tmp/history
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.History.MaxFiles != 32 {
		t.Errorf("default History.MaxFiles = %v, want 32", cfg.History.MaxFiles)
	}
	if cfg.History.MaxBufferBytes != 128*1024 {
		t.Errorf("default History.MaxBufferBytes = %v, want 131072", cfg.History.MaxBufferBytes)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Sampler.ReadingsChannelSize != 100 {
		t.Errorf("default Sampler.ReadingsChannelSize = %v, want 100", cfg.Sampler.ReadingsChannelSize)
	}
	if cfg.InfluxDB.ExportInterval != 15*time.Minute {
		t.Errorf("default InfluxDB.ExportInterval = %v, want 15m", cfg.InfluxDB.ExportInterval)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, validConfig)

	t.Setenv("HISTORY_DIRECTORY", "/override/history")
	t.Setenv("HISTORY_MAX_FILES", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.History.Directory != "/override/history" {
		t.Errorf("History.Directory = %v, want /override/history", cfg.History.Directory)
	}
	if cfg.History.MaxFiles != 8 {
		t.Errorf("History.MaxFiles = %v, want 8", cfg.History.MaxFiles)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing history directory",
			content: `
history:
  max_files: 8
`,
		},
		{
			name: "poll interval too small",
			content: `
history:
  directory: /tmp/history
sampler:
  poll_interval: 500ms
`,
		},
		{
			name: "energy interval below poll interval",
			content: `
history:
  directory: /tmp/history
sampler:
  poll_interval: 1m
  energy_interval: 30s
`,
		},
		{
			name: "bad log level",
			content: `
history:
  directory: /tmp/history
logging:
  level: loud
`,
		},
		{
			name: "influx enabled without url",
			content: `
history:
  directory: /tmp/history
influxdb:
  enabled: true
  token: supersecret
  organization: org
  bucket: bucket
`,
		},
		{
			name: "influx http to remote host",
			content: `
history:
  directory: /tmp/history
influxdb:
  enabled: true
  url: http://influx.example.com:8086
  token: supersecret
  organization: org
  bucket: bucket
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted an invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() accepted a missing file")
	}
}

func TestValidateWithSchema(t *testing.T) {
	path := writeConfig(t, validConfig)
	if err := ValidateWithSchema(path); err != nil {
		t.Errorf("ValidateWithSchema() error = %v", err)
	}
}

func TestValidateWithSchemaRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
history:
  directory: /tmp/history
  unknown_key: true
`)
	if err := ValidateWithSchema(path); err == nil {
		t.Error("ValidateWithSchema() accepted an unknown key")
	}
}

func TestGetSchemaJSON(t *testing.T) {
	if GetSchemaJSON() == "" {
		t.Error("GetSchemaJSON() returned empty schema")
	}
}
