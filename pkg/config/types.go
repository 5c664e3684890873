package config

import (
	"fmt"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/observability"
)

// Config is the root gateway configuration.
type Config struct {
	Gateway       GatewayConfig         `yaml:"gateway" json:"gateway"`
	Policy        PolicyConfig          `yaml:"policy" json:"policy"`
	RabbitMQ      RabbitMQConfig        `yaml:"rabbitmq" json:"rabbitmq"`
	Auth          *AuthConfig           `yaml:"auth,omitempty" json:"auth,omitempty"`
	Observability *observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
	Services      []*ServiceDefinition  `yaml:"services" json:"services"`
}

// GatewayConfig holds the agent-facing server settings.
type GatewayConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// BaseURL is the public URL of this gateway, used to build the
	// callback URL carried in execution notifications. Defaults to
	// http://{host}:{port}.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// ExecutionTimeout bounds how long a tool call waits for the
	// Executor's callback.
	ExecutionTimeout time.Duration `yaml:"execution_timeout" json:"execution_timeout"`

	// ContextTTL bounds how long an unconsumed stored context lives.
	ContextTTL time.Duration `yaml:"context_ttl" json:"context_ttl"`

	// CleanupInterval is the TTL sweeper period.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// ShutdownDrain is how long graceful shutdown waits for in-flight
	// tool calls.
	ShutdownDrain time.Duration `yaml:"shutdown_drain" json:"shutdown_drain"`

	// CredentialProxyURL is forwarded to the Executor in notification
	// metadata; the gateway itself never fetches credentials.
	CredentialProxyURL string `yaml:"credential_proxy_url" json:"credential_proxy_url"`

	// RateLimit throttles the agent-facing surface per caller identity.
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// RateLimitConfig bounds requests per caller over a fixed window.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Limit   int64         `yaml:"limit" json:"limit"`
	Window  time.Duration `yaml:"window" json:"window"`
}

// Address returns the host:port listen address.
func (c *GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PublicURL returns the externally reachable base URL.
func (c *GatewayConfig) PublicURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "http://" + c.Address()
}

// PolicyConfig holds the Policy service (NPL engine) client settings.
type PolicyConfig struct {
	URL        string        `yaml:"url" json:"url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// RabbitMQConfig holds the broker connection settings.
type RabbitMQConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`

	// Queue is the durable execution queue name.
	Queue string `yaml:"queue" json:"queue"`

	// ReconnectInterval is the delay between reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`
}

// URL returns the amqp:// connection URL.
func (c *RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.User, c.Password, c.Host, c.Port)
}

// AuthConfig configures authentication for the gateway's HTTP surfaces.
type AuthConfig struct {
	// ExecutorToken protects the Executor-only endpoints (/context,
	// /callback) with a static bearer token. Empty disables the check;
	// rely on network policy in that case.
	ExecutorToken string `yaml:"executor_token" json:"executor_token"`

	// JWT validation for the agent-facing surface. All three must be set
	// to enable it.
	JWKSURL  string `yaml:"jwks_url" json:"jwks_url"`
	Issuer   string `yaml:"issuer" json:"issuer"`
	Audience string `yaml:"audience" json:"audience"`
}

// JWTEnabled reports whether agent-surface JWT validation is configured.
func (c *AuthConfig) JWTEnabled() bool {
	return c != nil && c.JWKSURL != "" && c.Issuer != "" && c.Audience != ""
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue returns the value of p, or def when p is nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
