// Package hostaddr finds the address clients should use to reach this host.
package hostaddr

import (
	"net"
	"time"
)

// Fallback is returned when no outbound interface can be determined.
const Fallback = "127.0.0.1"

// probeTarget is never contacted: connecting a UDP socket only selects the
// route and local address.
const probeTarget = "10.255.255.255:1"

// Discover returns the IPv4 address of the interface used for outbound
// traffic, or Fallback.
func Discover() string {
	return discover(probeTarget)
}

func discover(target string) string {
	conn, err := net.DialTimeout("udp4", target, time.Second)
	if err != nil {
		return Fallback
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return Fallback
	}
	return addr.IP.String()
}

// Resolve returns host when it is a usable advertised address and the
// discovered address otherwise. Wildcard listen hosts are never advertised.
func Resolve(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return Discover()
	}
	return host
}
