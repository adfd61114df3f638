package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	apperrors "github.com/jrsteele09/go-cluster-gateway/internal/errors"
	"gopkg.in/yaml.v3"
)

type Config interface {
	EnvConfig
	CorsConfig
	GatewayConfig
	SecurityConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Gateway
	Security
}

// New returns a configuration backed by environment variables only.
func New() Config {
	return newMainConfig(source{})
}

// Load returns a configuration that uses the YAML file at path for defaults.
// Environment variables still take precedence over file values. An empty path
// behaves like New.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[config Load] read %s", path)
	}
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, apperrors.Wrapf(err, "[config Load] parse %s", path)
	}
	return newMainConfig(source{file: f.values()}), nil
}

func newMainConfig(src source) mainConfig {
	return mainConfig{
		EnvVars:  EnvVars{src},
		Cors:     Cors{src},
		Gateway:  Gateway{src},
		Security: Security{src},
	}
}

// Validate checks the values the gateway cannot run without.
func (c mainConfig) Validate() error {
	base, err := url.Parse(c.GetAPIBase())
	if err != nil {
		return fmt.Errorf("invalid %s: %w", apiBaseVar, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https, got %q", apiBaseVar, base.Scheme)
	}
	if base.Host == "" {
		return fmt.Errorf("invalid %s: missing host", apiBaseVar)
	}
	if strings.Trim(c.GetMainDomain(), ".") == "" {
		return fmt.Errorf("%s is required", mainDomainVar)
	}
	if c.GetUpstreamTimeout() <= 0 || c.GetRefreshTimeout() <= 0 {
		return fmt.Errorf("upstream and refresh timeouts must be positive")
	}
	if c.GetAccessTokenTTL() <= 0 {
		return fmt.Errorf("%s must be positive", accessTokenTTLVar)
	}
	return nil
}
