package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// SockaddrFromTCPAddr converts a resolved net.TCPAddr into the
// golang.org/x/sys/unix representation the raw socket(2)/connect(2)/bind(2)
// calls in connector and listener need, along with the matching address
// family for socket(2)'s first argument.
func SockaddrFromTCPAddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, 0, fmt.Errorf("transport: unresolvable address %v", addr)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip16)
	if addr.Zone != "" {
		if iface, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(iface.Index)
		}
	}
	return sa, unix.AF_INET6, nil
}
