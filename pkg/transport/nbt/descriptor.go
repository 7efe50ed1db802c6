package nbt

import (
	"github.com/marmos91/smbtran/pkg/transport"
)

// Name is the registry name of the NBT carrier.
const Name = "nbtcp"

// Descriptor returns the registry entry for NetBIOS-over-TCP.
func Descriptor() transport.Descriptor {
	return transport.Descriptor{
		Family: transport.FamilyNBTCP,
		Name:   Name,
		New: func(opts transport.Options) (transport.Transport, error) {
			t, err := New(opts)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}
