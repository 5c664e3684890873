package config

import (
	"fmt"
	"time"
)

const (
	DefaultQueue            = "npl.execution.requests"
	DefaultContextTTL       = 5 * time.Minute
	DefaultExecutionTimeout = 2 * time.Minute
)

// SetDefaults fills zero-valued fields with sensible defaults.
func (c *Config) SetDefaults() {
	if c.Gateway.Host == "" {
		c.Gateway.Host = "0.0.0.0"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8000
	}
	if c.Gateway.ExecutionTimeout == 0 {
		c.Gateway.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.Gateway.ContextTTL == 0 {
		c.Gateway.ContextTTL = DefaultContextTTL
	}
	if c.Gateway.CleanupInterval == 0 {
		c.Gateway.CleanupInterval = 30 * time.Second
	}
	if c.Gateway.ShutdownDrain == 0 {
		c.Gateway.ShutdownDrain = 10 * time.Second
	}
	if c.Gateway.RateLimit != nil {
		if c.Gateway.RateLimit.Limit == 0 {
			c.Gateway.RateLimit.Limit = 120
		}
		if c.Gateway.RateLimit.Window == 0 {
			c.Gateway.RateLimit.Window = time.Minute
		}
	}
	if c.Policy.Timeout == 0 {
		c.Policy.Timeout = 10 * time.Second
	}
	if c.Policy.MaxRetries == 0 {
		c.Policy.MaxRetries = 2
	}
	if c.RabbitMQ.Host == "" {
		c.RabbitMQ.Host = "localhost"
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.RabbitMQ.User == "" {
		c.RabbitMQ.User = "guest"
	}
	if c.RabbitMQ.Password == "" {
		c.RabbitMQ.Password = "guest"
	}
	if c.RabbitMQ.Queue == "" {
		c.RabbitMQ.Queue = DefaultQueue
	}
	if c.RabbitMQ.ReconnectInterval == 0 {
		c.RabbitMQ.ReconnectInterval = 5 * time.Second
	}
	if c.Observability != nil {
		c.Observability.SetDefaults()
	}
	for _, svc := range c.Services {
		svc.setDefaults()
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway: invalid port %d", c.Gateway.Port)
	}
	if c.Gateway.ExecutionTimeout <= 0 {
		return fmt.Errorf("gateway: execution_timeout must be positive")
	}
	if c.Gateway.ContextTTL <= 0 {
		return fmt.Errorf("gateway: context_ttl must be positive")
	}
	if rl := c.Gateway.RateLimit; rl != nil && rl.Enabled {
		if rl.Limit <= 0 {
			return fmt.Errorf("gateway: rate_limit.limit must be positive")
		}
		if rl.Window <= 0 {
			return fmt.Errorf("gateway: rate_limit.window must be positive")
		}
	}
	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if err := svc.validate(); err != nil {
			return err
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service %q", svc.Name)
		}
		seen[svc.Name] = true
	}
	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}
	return nil
}
