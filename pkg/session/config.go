package session

import (
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/smbtran/pkg/transport"
)

// Default session settings.
const (
	DefaultTickInterval         = time.Second
	DefaultReconnectInitial     = 100 * time.Millisecond
	DefaultReconnectMaxInterval = 5 * time.Second
	DefaultReconnectMaxElapsed  = time.Minute
	DefaultReconnectMultiplier  = 2.0
)

// ReconnectConfig controls connect retries.
//
// When Enabled, Open retries retryable connect failures and a session whose
// transport goes fatal reopens a fresh instance in the background. When
// disabled, Open makes a single attempt and a lost session stays lost.
type ReconnectConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval" validate:"gte=0"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed" validate:"gte=0"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier" validate:"omitempty,gte=1"`
}

// DefaultReconnectConfig returns reconnect settings with every default.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:         true,
		InitialInterval: DefaultReconnectInitial,
		MaxInterval:     DefaultReconnectMaxInterval,
		MaxElapsed:      DefaultReconnectMaxElapsed,
		Multiplier:      DefaultReconnectMultiplier,
	}
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultReconnectInitial
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultReconnectMaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultReconnectMultiplier
	}
	return c
}

// backOff builds the retry policy. MaxElapsed of zero retries until the
// context ends.
func (c ReconnectConfig) backOff() backoff.BackOff {
	if !c.Enabled {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = c.MaxElapsed
	b.Multiplier = c.Multiplier
	b.Reset()
	return b
}

// Config configures a Session.
type Config struct {
	// Name labels the session in logs. Defaults to the session ID.
	Name string

	// Family selects the carrier. Defaults to NetBIOS over TCP.
	Family transport.Family

	// Remote is the peer to connect to.
	Remote net.Addr

	// Local optionally binds the source address.
	Local net.Addr

	// Transport configures each instance the session opens.
	Transport transport.Options

	// TickInterval is how often TimeoutTick runs. Negative disables it.
	TickInterval time.Duration

	Reconnect ReconnectConfig

	// Metrics is optional.
	Metrics Metrics
}

func (c Config) withDefaults() Config {
	if c.Family == 0 {
		c.Family = transport.FamilyNBTCP
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	c.Reconnect = c.Reconnect.withDefaults()
	return c
}
