package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required"`
	Store       *StoreConfig       `yaml:"store" json:"store" validate:"required"`
	Upstream    *UpstreamConfig    `yaml:"upstream" json:"upstream" validate:"required"`
	Refresh     *RefreshConfig     `yaml:"refresh" json:"refresh" validate:"required"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int           `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int           `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int           `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int           `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"min=0"`
}

type TLSConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	CertFile string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty" validate:"required_if=Enabled true AutoCert false"`
	KeyFile  string   `yaml:"key_file,omitempty" json:"key_file,omitempty" validate:"required_if=Enabled true AutoCert false"`
	AutoCert bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains  []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Email    string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	ACMEDirectory string `yaml:"acme_directory,omitempty" json:"acme_directory,omitempty" validate:"omitempty,url"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" validate:"required"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

type StoreConfig struct {
	Type     string          `yaml:"type" json:"type" validate:"required,oneof=redis memcache memory"`
	Redis    *RedisConfig    `yaml:"redis" json:"redis"`
	Memcache *MemcacheConfig `yaml:"memcache" json:"memcache"`
	Memory   *MemoryConfig   `yaml:"memory" json:"memory"`
}

type RedisConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	Password           string        `yaml:"password" json:"password"`
	DB                 int           `yaml:"db" json:"db" validate:"min=0"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size" validate:"min=0"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections" validate:"min=0"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix          string        `yaml:"key_prefix" json:"key_prefix"`
}

type MemcacheConfig struct {
	Servers      []string      `yaml:"servers" json:"servers" validate:"omitempty,dive,hostname_port"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxIdleConns int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
}

type MemoryConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
}

type UpstreamConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	APIKey         string                `yaml:"api_key" json:"api_key"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"min=0"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout" validate:"min=0"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests" validate:"min=0"`
}

type RefreshConfig struct {
	Namespace         string        `yaml:"namespace" json:"namespace" validate:"required"`
	TTL               time.Duration `yaml:"ttl" json:"ttl" validate:"gt=0"`
	ExpectedRecompute time.Duration `yaml:"expected_recompute" json:"expected_recompute" validate:"min=0"`
	Beta              float64       `yaml:"beta" json:"beta" validate:"min=0"`
	SingleFlight      bool          `yaml:"single_flight" json:"single_flight"`
	AdaptiveRecompute bool          `yaml:"adaptive_recompute" json:"adaptive_recompute"`
}

type MetricsConfig struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Path            string            `yaml:"path" json:"path" validate:"required_if=Enabled true"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type HealthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
}

type CronConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Timezone   string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	ReportSpec string `yaml:"report_spec" json:"report_spec" validate:"required_if=Enabled true"`
}

type MiddlewaresConfig struct {
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	CORS        *MiddlewareItemConfig `yaml:"cors" json:"cors"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
