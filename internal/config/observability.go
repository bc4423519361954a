package config

// TracingConfig configures OTLP trace export.
//
// Spans are exported over OTLP/HTTP to a local collector; the backend
// behind the collector is deployment-specific.
type TracingConfig struct {
	// Enabled turns trace export on. Default: false (no-op tracer).
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Endpoint is the OTLP/HTTP collector address, host:port without scheme (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// ServiceName is the service name attached to spans (default: synapser)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
}
