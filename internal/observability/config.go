package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/overtimestaff/escrow/internal/config"
)

// Config is the logging and tracing view of the process configuration.
// Values fall back to config.Config and may be overridden by OTEL_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	SlowQueryThreshold time.Duration
}

const (
	defaultSamplingRatio = 0.1
	defaultSlowQuery     = 200 * time.Millisecond
)

func LoadConfig(cfg config.Config) Config {
	env := envLookup(os.Getenv)

	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:              env.str("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env.str("LOG_FORMAT", "json")),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env.str("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    env.ratio("OTEL_SAMPLING_RATIO", defaultSamplingRatio),
		SlowQueryThreshold:   env.duration("DB_SLOW_QUERY_THRESHOLD", defaultSlowQuery),
	}
	if out.ServiceName == "" {
		out.ServiceName = "escrow"
	}
	out.OtelEnabled = env.flag("OTEL_ENABLED", out.OtelExporterEndpoint != "")
	return out
}

// Debug turns on development logging and stack traces.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

type envLookup func(string) string

func (e envLookup) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return strings.TrimSpace(def)
}

func (e envLookup) flag(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(e(key)))
	if err != nil {
		return def
	}
	return v
}

// ratio accepts values in [0,1] only.
func (e envLookup) ratio(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(e(key)), 64)
	if err != nil || v < 0 || v > 1 {
		return def
	}
	return v
}

func (e envLookup) duration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(e(key)))
	if err != nil || v < 0 {
		return def
	}
	return v
}
