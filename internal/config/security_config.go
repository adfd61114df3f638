package config

const (
	cookieSecureVar     = "COOKIE_SECURE"
	rateLimitEnabledVar = "RATE_LIMIT_ENABLED"
	rateLimitRPSVar     = "RATE_LIMIT_RPS"
	rateLimitBurstVar   = "RATE_LIMIT_BURST"
)

type SecurityConfig interface {
	GetCookieSecure() bool
	GetEnableRateLimiting() bool
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

type Security struct {
	src source
}

var _ SecurityConfig = Security{}

func (s Security) GetCookieSecure() bool {
	return s.src.getBool(cookieSecureVar, true)
}

func (s Security) GetEnableRateLimiting() bool {
	return s.src.getBool(rateLimitEnabledVar, false)
}

func (s Security) GetRateLimitRPS() float64 {
	return s.src.getFloat(rateLimitRPSVar, 20)
}

func (s Security) GetRateLimitBurst() int {
	return int(s.src.getInt64(rateLimitBurstVar, 40))
}
