package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/code-payments/apns/pkg/config"
)

var errDeveloperInduced = errors.New("in memory config: developer induced error")

// Config is an in memory config. It backs static client configuration, where
// a nil value means "use the default", and doubles as a controllable source
// in tests.
type Config struct {
	mu       sync.RWMutex
	value    interface{}
	err      error
	shutdown bool
}

// NewConfig returns a new in memory config. A nil value reports
// config.ErrNoValue.
func NewConfig(value interface{}) *Config {
	return &Config{value: value}
}

// Get implements Config.Get
func (c *Config) Get(_ context.Context) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.shutdown {
		return nil, config.ErrShutdown
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.value == nil {
		return nil, config.ErrNoValue
	}
	return c.value, nil
}

// Shutdown implements Config.Shutdown
func (c *Config) Shutdown() {
	c.update(func() { c.shutdown = true })
}

// SetValue sets the value returned by subsequent Get calls.
func (c *Config) SetValue(value interface{}) {
	c.update(func() { c.value = value })
}

// ClearValue makes subsequent Get calls return config.ErrNoValue.
func (c *Config) ClearValue() {
	c.SetValue(nil)
}

// InduceErrors makes subsequent Get calls fail until StopInducingErrors.
func (c *Config) InduceErrors() {
	c.InduceError(errDeveloperInduced)
}

// InduceError makes subsequent Get calls return err until StopInducingErrors.
func (c *Config) InduceError(err error) {
	c.update(func() { c.err = err })
}

// StopInducingErrors stops the config from simulating an error.
func (c *Config) StopInducingErrors() {
	c.InduceError(nil)
}

func (c *Config) update(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}
