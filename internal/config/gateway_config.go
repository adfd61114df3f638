package config

import (
	"strings"
	"time"
)

const (
	apiBaseVar              = "API_BASE"
	mainDomainVar           = "MAIN_DOMAIN"
	reservedLabelsVar       = "RESERVED_LABELS"
	upstreamTimeoutVar      = "UPSTREAM_TIMEOUT"
	refreshTimeoutVar       = "REFRESH_TIMEOUT"
	accessTokenTTLVar       = "ACCESS_TOKEN_TTL"
	maxBodyBytesVar         = "MAX_BODY_BYTES"
	refreshWithoutAccessVar = "REFRESH_WITHOUT_ACCESS_TOKEN"
	refreshResultTTLVar     = "REFRESH_RESULT_TTL"
	redisURLVar             = "REDIS_URL"
)

// DefaultReservedLabels are host labels that never name a tenant.
var DefaultReservedLabels = []string{"www", "api", "cdn"}

type GatewayConfig interface {
	GetAPIBase() string
	GetMainDomain() string
	GetReservedLabels() []string
	GetUpstreamTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetAccessTokenTTL() time.Duration
	GetMaxBodyBytes() int64
	GetRefreshWithoutAccessToken() bool
	GetRefreshResultTTL() time.Duration
	GetRedisURL() string
}

type Gateway struct {
	src source
}

var _ GatewayConfig = Gateway{}

// GetAPIBase returns the upstream API base URL without a trailing slash
func (g Gateway) GetAPIBase() string {
	return strings.TrimRight(g.src.get(apiBaseVar, "http://localhost:8000"), "/")
}

// GetMainDomain returns the bare domain tenants are subdomains of (e.g. "clustr.com")
func (g Gateway) GetMainDomain() string {
	return strings.ToLower(g.src.get(mainDomainVar, "localhost"))
}

func (g Gateway) GetReservedLabels() []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, label := range g.src.getList(reservedLabelsVar, DefaultReservedLabels) {
		label = strings.ToLower(label)
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

func (g Gateway) GetUpstreamTimeout() time.Duration {
	return g.src.getDuration(upstreamTimeoutVar, 15*time.Second)
}

func (g Gateway) GetRefreshTimeout() time.Duration {
	return g.src.getDuration(refreshTimeoutVar, 10*time.Second)
}

func (g Gateway) GetAccessTokenTTL() time.Duration {
	return g.src.getDuration(accessTokenTTLVar, 15*time.Minute)
}

func (g Gateway) GetMaxBodyBytes() int64 {
	return g.src.getInt64(maxBodyBytesVar, 10<<20)
}

// GetRefreshWithoutAccessToken allows requires-auth routes to refresh first when
// only the refresh cookie is present. Off by default.
func (g Gateway) GetRefreshWithoutAccessToken() bool {
	return g.src.getBool(refreshWithoutAccessVar, false)
}

// GetRefreshResultTTL is how long a refresh result is shared between replicas
func (g Gateway) GetRefreshResultTTL() time.Duration {
	return g.src.getDuration(refreshResultTTLVar, 5*time.Second)
}

// GetRedisURL returns the shared refresh store address; empty disables it
func (g Gateway) GetRedisURL() string {
	return g.src.get(redisURLVar, "")
}
