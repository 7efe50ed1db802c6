package nbt

import (
	"fmt"
	"time"

	"github.com/marmos91/smbtran/pkg/transport"
)

// DefaultCallingName is sent as the calling name of a session request when
// none is configured.
const DefaultCallingName = "SMBTRAN"

// Options holds NBT-specific settings. They are passed to the factory through
// transport.Options.Carrier.
type Options struct {
	// Variant selects the header length layout. Default Length24.
	Variant LengthVariant

	// CalledName enables the RFC 1002 session request exchange after the TCP
	// connection is established. Empty means direct-hosted (no request).
	CalledName string

	// CallingName identifies this client in the session request.
	// Defaults to DefaultCallingName.
	CallingName string

	// KeepAlive is the TCP keepalive period. Zero uses the system default,
	// negative disables TCP keepalives.
	KeepAlive time.Duration

	// NoDelay disables Nagle's algorithm on the connection.
	NoDelay bool
}

// DefaultOptions returns the options used when the carrier field is nil.
func DefaultOptions() Options {
	return Options{
		Variant:     Length24,
		CallingName: DefaultCallingName,
		NoDelay:     true,
	}
}

// carrierOptions extracts NBT options from the generic options.
func carrierOptions(opts transport.Options) (Options, error) {
	var o Options
	switch c := opts.Carrier.(type) {
	case nil:
		return DefaultOptions(), nil
	case Options:
		o = c
	case *Options:
		if c == nil {
			return DefaultOptions(), nil
		}
		o = *c
	default:
		return Options{}, transport.Errorf("create", transport.CodeInvalidParameter,
			"unexpected carrier options type %T", opts.Carrier)
	}

	if o.Variant != Length24 && o.Variant != Length17 {
		return Options{}, transport.Errorf("create", transport.CodeInvalidParameter,
			"unknown length variant %d", uint8(o.Variant))
	}
	if o.CallingName == "" {
		o.CallingName = DefaultCallingName
	}
	if o.CalledName != "" {
		if _, err := (SessionRequest{Called: o.CalledName, Calling: o.CallingName}).Encode(); err != nil {
			return Options{}, transport.NewError("create", transport.CodeInvalidParameter, fmt.Errorf("session request: %w", err))
		}
	}
	return o, nil
}
