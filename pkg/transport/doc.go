// Package transport defines the carrier-independent transport layer used by
// an SMB client session.
//
// The session layer drives a Transport through a fixed set of operations
// (Create, Bind, Connect, Send, Receive, Disconnect, Done) and never looks at
// carrier details. Concrete carriers (for example NetBIOS-over-TCP in the nbt
// subpackage) are exposed through a Descriptor and selected by Family from an
// immutable Registry.
//
// # Connection State Machine
//
//	New --Create--> Created --Bind--> Bound
//	                  |                 |
//	                  +-----Connect-----+--> Connecting --> Connected
//	                                                           |
//	                                 Disconnected <-- Disconnecting
//
//	any non-terminal state --Fatal--> Fatal (sticky)
//
// Send and Receive are only valid in Connected. Once an instance is Fatal,
// only Done is valid.
//
// # Errors
//
// Every failure carries a Code (see errors.go). Codes classed as fatal are
// always routed through Transport.Fatal, which is the single place that moves
// an instance into the Fatal state and notifies the owning session through
// the WakeCallback parameter, exactly once.
package transport
