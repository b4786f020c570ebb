// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the battery history logger.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	History  HistoryConfig  `yaml:"history" validate:"required"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HistoryConfig holds history store settings
type HistoryConfig struct {
	Directory      string `yaml:"directory" validate:"required"`
	MaxFiles       int    `yaml:"max_files" validate:"min=1,max=10000"`
	MaxBufferBytes int    `yaml:"max_buffer_bytes" validate:"min=64"`
}

// SamplerConfig holds battery sampling settings
type SamplerConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	EnergyInterval      time.Duration `yaml:"energy_interval"`
	ReadingsChannelSize int           `yaml:"readings_channel_size" validate:"min=1"`
}

// InfluxDBConfig holds optional InfluxDB export settings
type InfluxDBConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Organization   string        `yaml:"organization"`
	Bucket         string        `yaml:"bucket"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if dir := os.Getenv("HISTORY_DIRECTORY"); dir != "" {
		c.History.Directory = dir
	}
	if maxFiles := os.Getenv("HISTORY_MAX_FILES"); maxFiles != "" {
		if n, parseErr := strconv.Atoi(maxFiles); parseErr == nil {
			c.History.MaxFiles = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse HISTORY_MAX_FILES '%s': %v\n", maxFiles, parseErr)
		}
	}
	if maxBytes := os.Getenv("HISTORY_MAX_BUFFER_BYTES"); maxBytes != "" {
		if n, parseErr := strconv.Atoi(maxBytes); parseErr == nil {
			c.History.MaxBufferBytes = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse HISTORY_MAX_BUFFER_BYTES '%s': %v\n", maxBytes, parseErr)
		}
	}
	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		c.InfluxDB.URL = url
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.InfluxDB.Organization = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.InfluxDB.Bucket = bucket
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if interval := os.Getenv("BATTERY_POLL_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.Sampler.PollInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse BATTERY_POLL_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.History.MaxFiles == 0 {
		c.History.MaxFiles = 32
	}
	if c.History.MaxBufferBytes == 0 {
		c.History.MaxBufferBytes = 128 * 1024
	}
	if c.Sampler.PollInterval == 0 {
		c.Sampler.PollInterval = 30 * time.Second
	}
	if c.Sampler.EnergyInterval == 0 {
		c.Sampler.EnergyInterval = 5 * time.Minute
	}
	if c.Sampler.ReadingsChannelSize == 0 {
		c.Sampler.ReadingsChannelSize = 100
	}
	if c.InfluxDB.ExportInterval == 0 {
		c.InfluxDB.ExportInterval = 15 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if validateErr := validator.New().Struct(c); validateErr != nil {
		return fmt.Errorf("struct validation failed: %w", validateErr)
	}

	if validateErr := c.validateSampler(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateInfluxDB(); validateErr != nil {
		return validateErr
	}

	return nil
}

// validateSampler validates the sampler configuration
func (c *Config) validateSampler() error {
	if c.Sampler.PollInterval < time.Second {
		return fmt.Errorf("sampler.poll_interval must be at least 1 second")
	}
	if c.Sampler.PollInterval > 1*time.Hour {
		return fmt.Errorf("sampler.poll_interval must not exceed 1 hour")
	}
	if c.Sampler.EnergyInterval < c.Sampler.PollInterval {
		return fmt.Errorf("sampler.energy_interval should be greater than or equal to sampler.poll_interval")
	}

	return nil
}

// validateInfluxDB validates the InfluxDB configuration when export is enabled
func (c *Config) validateInfluxDB() error {
	if !c.InfluxDB.Enabled {
		return nil
	}

	if c.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required when export is enabled")
	}

	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return fmt.Errorf("influxdb.url is not a valid URL: %w", parseErr)
	}

	if securityErr := validateURLSecurity(parsedURL); securityErr != nil {
		return securityErr
	}

	if c.InfluxDB.Token == "" {
		return fmt.Errorf("influxdb.token is required when export is enabled")
	}
	if len(c.InfluxDB.Token) < 8 {
		return fmt.Errorf("influxdb.token must be at least 8 characters long")
	}
	if c.InfluxDB.Organization == "" {
		return fmt.Errorf("influxdb.organization is required when export is enabled")
	}
	if c.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb.bucket is required when export is enabled")
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("influxdb.url must use HTTPS for non-local connections (got %s). Using HTTP transmits credentials in plaintext and is a security risk", parsedURL.Scheme)
	}

	return nil
}
