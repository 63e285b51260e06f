// Package config handles loading and validation of gateway configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"golang.org/x/mod/semver"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/constraints"
)

// Version is the gateway release version, advertised to MCP clients and
// checked against the config's "requires" field.
const Version = "1.0.0"

// Config holds all service configuration.
// Environment determines whether deployment settings load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	GatewayID  string

	// Deployment-specific settings (loaded from secrets in production)
	Gateway GatewayConfig
}

// GatewayConfig contains the deployment-specific negotiation settings.
// In production this is loaded from Secret Manager as JSON; in development
// from individual env vars or CONFIG_FILE.
type GatewayConfig struct {
	// Requires is the minimum gateway version this config expects.
	Requires string `json:"requires,omitempty"`

	// DefaultCapabilities are merged underneath every client payload.
	DefaultCapabilities caps.Dict `json:"default_capabilities,omitempty"`

	// Constraints declare the capability rules the matcher validates
	// against, inline or via a JSON file reference. At most one of the two.
	Constraints     constraints.Spec `json:"constraints,omitempty"`
	ConstraintsFile string           `json:"constraints_file,omitempty"`

	// DriverArgs and PluginArgs are extension-args blob sources: inline
	// JSON/YAML or a file reference, resolved by the extargs loader.
	DriverArgs string `json:"driver_args,omitempty"`
	PluginArgs string `json:"plugin_args,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		GatewayID:   os.Getenv("GATEWAY_ID"),
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.GatewayID == "" {
			return nil, fmt.Errorf("GATEWAY_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading gateway config: %w", err)
	}

	if err := cfg.resolveConstraints(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port        string        `json:"port"`
		Environment string        `json:"environment"`
		LogLevel    string        `json:"log_level"`
		GatewayID   string        `json:"gateway_id"`
		Gateway     GatewayConfig `json:"gateway"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, "8080"),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		GatewayID:   fileConfig.GatewayID,
		Gateway:     fileConfig.Gateway,
	}

	if err := cfg.resolveConstraints(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches gateway config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{gateway_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.GatewayID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Gateway); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads gateway config from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	c.Gateway = GatewayConfig{
		Requires:        os.Getenv("REQUIRES"),
		ConstraintsFile: os.Getenv("CONSTRAINTS_FILE"),
		DriverArgs:      os.Getenv("DRIVER_ARGS"),
		PluginArgs:      os.Getenv("PLUGIN_ARGS"),
	}

	if capsJSON := os.Getenv("DEFAULT_CAPABILITIES"); capsJSON != "" {
		d, err := caps.ParseDict([]byte(capsJSON))
		if err != nil {
			return fmt.Errorf("parsing DEFAULT_CAPABILITIES JSON: %w", err)
		}
		c.Gateway.DefaultCapabilities = d
	}

	if constraintsJSON := os.Getenv("CAPABILITY_CONSTRAINTS"); constraintsJSON != "" {
		if err := json.Unmarshal([]byte(constraintsJSON), &c.Gateway.Constraints); err != nil {
			return fmt.Errorf("parsing CAPABILITY_CONSTRAINTS JSON: %w", err)
		}
	}

	return nil
}

// resolveConstraints loads the constraints file when one is referenced.
func (c *Config) resolveConstraints() error {
	if c.Gateway.ConstraintsFile == "" {
		return nil
	}
	if len(c.Gateway.Constraints) > 0 {
		return fmt.Errorf("constraints and constraints_file are mutually exclusive")
	}
	data, err := os.ReadFile(c.Gateway.ConstraintsFile)
	if err != nil {
		return fmt.Errorf("reading constraints file: %w", err)
	}
	if err := json.Unmarshal(data, &c.Gateway.Constraints); err != nil {
		return fmt.Errorf("parsing constraints file: %w", err)
	}
	return nil
}

// validate checks that all required configuration fields are present and
// that this gateway build satisfies the config's version requirement.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("invalid environment %q", c.Environment)
	}

	return checkRequires(c.Gateway.Requires)
}

// checkRequires enforces the config's minimum gateway version.
func checkRequires(requires string) error {
	if requires == "" {
		return nil
	}
	want := normalizeVersion(requires)
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid requires version %q", requires)
	}
	if semver.Compare(want, normalizeVersion(Version)) > 0 {
		return fmt.Errorf("config requires gateway >= %s, running %s", requires, Version)
	}
	return nil
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
