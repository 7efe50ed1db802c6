package config

import (
	"fmt"
	"net"

	"github.com/marmos91/smbtran/pkg/session"
	"github.com/marmos91/smbtran/pkg/transport"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

// Options converts the transport section into transport.Options, with the
// NBT carrier options attached. m may be nil.
func (c TransportConfig) Options(m transport.Metrics) (transport.Options, error) {
	variant, err := nbt.ParseLengthVariant(c.NBT.Variant)
	if err != nil {
		return transport.Options{}, err
	}

	return transport.Options{
		SendSize:               c.SendSize.Int(),
		ReceiveSize:            c.ReceiveSize.Int(),
		Timeout:                c.Timeout,
		QoS:                    c.QoS,
		MaxConsecutiveTimeouts: c.MaxConsecutiveTimeouts,
		StallGrace:             c.StallGrace,
		Metrics:                m,
		Carrier: nbt.Options{
			Variant:     variant,
			CalledName:  c.NBT.CalledName,
			CallingName: c.NBT.CallingName,
			KeepAlive:   c.NBT.KeepAlive,
			NoDelay:     c.NBT.NoDelay,
		},
	}, nil
}

// SessionConfig builds a session.Config for remote. An empty remote falls
// back to session.remote.
func (c *Config) SessionConfig(name, remote string, tm transport.Metrics, sm session.Metrics) (session.Config, error) {
	if remote == "" {
		remote = c.Session.Remote
	}
	if remote == "" {
		return session.Config{}, fmt.Errorf("no remote address: set session.remote or pass one")
	}

	family, err := transport.ParseFamily(c.Transport.Family)
	if err != nil {
		return session.Config{}, err
	}

	raddr, err := net.ResolveTCPAddr("tcp", remote)
	if err != nil {
		return session.Config{}, fmt.Errorf("resolve remote %q: %w", remote, err)
	}

	var laddr net.Addr
	if c.Session.Local != "" {
		a, err := net.ResolveTCPAddr("tcp", c.Session.Local)
		if err != nil {
			return session.Config{}, fmt.Errorf("resolve local %q: %w", c.Session.Local, err)
		}
		laddr = a
	}

	opts, err := c.Transport.Options(tm)
	if err != nil {
		return session.Config{}, err
	}

	return session.Config{
		Name:         name,
		Family:       family,
		Remote:       raddr,
		Local:        laddr,
		Transport:    opts,
		TickInterval: c.Session.TickInterval,
		Reconnect:    c.Session.Reconnect,
		Metrics:      sm,
	}, nil
}

// ResponderConfig builds the NBT responder configuration. The responder
// speaks the transport's length variant.
func (c *Config) ResponderConfig(m nbt.ResponderMetrics) (nbt.ResponderConfig, error) {
	variant, err := nbt.ParseLengthVariant(c.Transport.NBT.Variant)
	if err != nil {
		return nbt.ResponderConfig{}, err
	}

	return nbt.ResponderConfig{
		ListenAddress:   c.Responder.ListenAddress,
		Variant:         variant,
		Names:           c.Responder.Names,
		MaxConnections:  c.Responder.MaxConnections,
		MaxFrameSize:    c.Responder.MaxFrameSize.Int(),
		IdleTimeout:     c.Responder.IdleTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
		Metrics:         m,
	}, nil
}
