package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar  = "PORT"
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
)

// source resolves a setting from the environment first, then the optional
// config file, then the supplied default.
type source struct {
	file map[string]string
}

func (s source) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := s.file[envVar]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (s source) getDuration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s.get(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return d
}

func (s source) getBool(envVar string, defaultValue bool) bool {
	b, err := strconv.ParseBool(s.get(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func (s source) getInt64(envVar string, defaultValue int64) int64 {
	i, err := strconv.ParseInt(s.get(envVar, ""), 10, 64)
	if err != nil {
		return defaultValue
	}
	return i
}

func (s source) getFloat(envVar string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(s.get(envVar, ""), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func (s source) getList(envVar string, defaultValue []string) []string {
	raw := s.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type EnvVars struct {
	src source
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.src.get(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.src.get(appNameVar, "Cluster Gateway")
}

func (e EnvVars) GetEnv() string {
	return e.src.get(envVar, "DEV")
}

func (e EnvVars) GetLogLevel() string {
	return e.src.get(logLevelVar, "info")
}

func GetEnv(envVar, defaultValue string) string {
	return source{}.get(envVar, defaultValue)
}
