package artnet

import (
	"fmt"
	"net"
)

// FindInterfaceIP returns the first local IPv4 address inside cidr. The
// test transmitter uses it to pick the interface facing the Art-Net
// network when sending through a controller.
func FindInterfaceIP(cidr string) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("bad network range %q: %w", cidr, err)
	}

	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}

	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		if cidrNet.Contains(ip) {
			return ip, nil
		}
	}

	return nil, nil
}
