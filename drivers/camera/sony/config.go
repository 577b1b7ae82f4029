package sony

import (
	"fmt"
	"time"
)

const (
	DefaultHost          = "192.168.122.1"
	DefaultPort          = 8080
	DefaultPath          = "/sony/camera"
	DefaultMinAppVersion = "2.1.4"
)

// Config describes where the camera's control endpoint lives and how the
// client paces itself. Zero values are replaced by defaults in New.
type Config struct {
	Host          string
	Port          int
	Path          string
	MinAppVersion string

	// Optional HTTP digest credentials.
	Username string
	Password string

	ProbeTimeout   time.Duration // version/capability probes
	CallTimeout    time.Duration // everything else, including long polls
	RetryInterval  time.Duration // pause after a failed event poll
	ReconnectDelay time.Duration // pause before reconnecting after NotReady
}

func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Path:           DefaultPath,
		MinAppVersion:  DefaultMinAppVersion,
		ProbeTimeout:   2 * time.Second,
		CallTimeout:    60 * time.Second,
		RetryInterval:  5 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.MinAppVersion == "" {
		c.MinAppVersion = d.MinAppVersion
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	return c
}

// Endpoint is the URL RPC calls are posted to.
func (c Config) Endpoint() string {
	return fmt.Sprintf("http://%s:%d%s", c.Host, c.Port, c.Path)
}
