package config

import (
	"strconv"
	"strings"
)

// configFile mirrors the optional YAML file. Every field maps onto the
// environment variable of the same setting so that env always wins.
type configFile struct {
	Server struct {
		Port     string `yaml:"port"`
		AppName  string `yaml:"app_name"`
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Gateway struct {
		APIBase                   string   `yaml:"api_base"`
		MainDomain                string   `yaml:"main_domain"`
		ReservedLabels            []string `yaml:"reserved_labels"`
		UpstreamTimeout           string   `yaml:"upstream_timeout"`
		RefreshTimeout            string   `yaml:"refresh_timeout"`
		AccessTokenTTL            string   `yaml:"access_token_ttl"`
		MaxBodyBytes              int64    `yaml:"max_body_bytes"`
		RefreshWithoutAccessToken *bool    `yaml:"refresh_without_access_token"`
		RefreshResultTTL          string   `yaml:"refresh_result_ttl"`
		RedisURL                  string   `yaml:"redis_url"`
	} `yaml:"gateway"`
	Cors struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	Security struct {
		CookieSecure     *bool   `yaml:"cookie_secure"`
		RateLimitEnabled *bool   `yaml:"rate_limit_enabled"`
		RateLimitRPS     float64 `yaml:"rate_limit_rps"`
		RateLimitBurst   int     `yaml:"rate_limit_burst"`
	} `yaml:"security"`
}

func (f configFile) values() map[string]string {
	v := map[string]string{
		portEnvVar:              f.Server.Port,
		appNameVar:              f.Server.AppName,
		envVar:                  f.Server.Env,
		logLevelVar:             f.Server.LogLevel,
		apiBaseVar:              f.Gateway.APIBase,
		mainDomainVar:           f.Gateway.MainDomain,
		reservedLabelsVar:       strings.Join(f.Gateway.ReservedLabels, ","),
		upstreamTimeoutVar:      f.Gateway.UpstreamTimeout,
		refreshTimeoutVar:       f.Gateway.RefreshTimeout,
		accessTokenTTLVar:       f.Gateway.AccessTokenTTL,
		refreshResultTTLVar:     f.Gateway.RefreshResultTTL,
		redisURLVar:             f.Gateway.RedisURL,
		allowedOriginsVar:       strings.Join(f.Cors.AllowedOrigins, ","),
		refreshWithoutAccessVar: boolString(f.Gateway.RefreshWithoutAccessToken),
		cookieSecureVar:         boolString(f.Security.CookieSecure),
		rateLimitEnabledVar:     boolString(f.Security.RateLimitEnabled),
	}
	if f.Gateway.MaxBodyBytes > 0 {
		v[maxBodyBytesVar] = strconv.FormatInt(f.Gateway.MaxBodyBytes, 10)
	}
	if f.Security.RateLimitRPS > 0 {
		v[rateLimitRPSVar] = strconv.FormatFloat(f.Security.RateLimitRPS, 'f', -1, 64)
	}
	if f.Security.RateLimitBurst > 0 {
		v[rateLimitBurstVar] = strconv.Itoa(f.Security.RateLimitBurst)
	}
	return v
}

func boolString(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
