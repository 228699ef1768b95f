package redisrelay

import (
	"fmt"
)

// Config for the Redis relay provider.
type Config struct {
	// Connection
	Addr     string
	Username string
	Password string
	DB       int

	// ID is the provider id on the local bus (default: "relay").
	ID string

	// InboundChannel is the Redis channel carrying remote-originated envelopes.
	InboundChannel string
	// OutboundChannel is the Redis channel this relay publishes to.
	OutboundChannel string

	// Codec names the envelope codec (default: "json").
	Codec string
}

// Defaults returns a Config with standard settings.
func Defaults() Config {
	return Config{
		Addr:            "127.0.0.1:6379",
		DB:              0,
		ID:              "relay",
		InboundChannel:  "agora:inbound",
		OutboundChannel: "agora:outbound",
		Codec:           "json",
	}
}

// Validate checks Config completeness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.ID == "" {
		return fmt.Errorf("config: id required")
	}
	if c.InboundChannel == "" {
		return fmt.Errorf("config: inbound_channel required")
	}
	if c.OutboundChannel == "" {
		return fmt.Errorf("config: outbound_channel required")
	}
	if c.InboundChannel == c.OutboundChannel {
		return fmt.Errorf("config: inbound and outbound channels must differ")
	}
	if c.Codec == "" {
		return fmt.Errorf("config: codec required")
	}
	return nil
}

// toMap converts Config to the generic map used by the provider factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":             c.Addr,
		"username":         c.Username,
		"password":         c.Password,
		"db":               c.DB,
		"id":               c.ID,
		"inbound_channel":  c.InboundChannel,
		"outbound_channel": c.OutboundChannel,
		"codec":            c.Codec,
	}
}

// ConfigFromMap safely converts a generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	switch v := m["db"].(type) {
	case int:
		c.DB = v
	case float64:
		c.DB = int(v)
	}
	if v, ok := m["id"].(string); ok && v != "" {
		c.ID = v
	}
	if v, ok := m["inbound_channel"].(string); ok && v != "" {
		c.InboundChannel = v
	}
	if v, ok := m["outbound_channel"].(string); ok && v != "" {
		c.OutboundChannel = v
	}
	if v, ok := m["codec"].(string); ok && v != "" {
		c.Codec = v
	}

	return c
}
