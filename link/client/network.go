package client

import "context"

// Network is the external collaborator responsible for platform-specific
// network bring-up. The core engine only needs these two operations;
// everything else (Wi-Fi drivers, DHCP, captive portals) lives outside this
// module.
type Network interface {
	// BringUp attempts to establish network connectivity, blocking until it
	// succeeds, ctx is canceled, or it gives up.
	BringUp(ctx context.Context, ssid, password string) bool
	// IsConnected reports current network-layer connectivity.
	IsConnected() bool
}

// alwaysUpNetwork is the default Network used when a caller supplies none:
// it assumes the host's network stack is already up, which is correct for
// any environment that isn't a constrained device bringing up its own radio.
type alwaysUpNetwork struct{}

func (alwaysUpNetwork) BringUp(ctx context.Context, ssid, password string) bool { return true }
func (alwaysUpNetwork) IsConnected() bool                                      { return true }
