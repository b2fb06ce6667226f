//go:build !linux && !windows

package network

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
