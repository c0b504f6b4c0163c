package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// guessIpAddress takes a base IP address and a partial address string,
// and fills in the missing octets from the base address.
func guessIpAddress(baseAddress net.IP, partialAddr string) (net.IP, error) {
	ip := make(net.IP, len(baseAddress))
	copy(ip, baseAddress)
	octets := strings.Split(partialAddr, ".")
	if len(octets) == 1 && octets[0] == "" {
		return ip, nil
	}
	if len(octets) > len(ip) {
		return net.IP{}, fmt.Errorf("%q has more octets than %v", partialAddr, baseAddress)
	}
	for i := 0; i < len(octets); i++ {
		var octet byte
		_, err := fmt.Sscanf(octets[i], "%d", &octet)
		if err != nil {
			return net.IP{}, err
		}
		ip[len(ip)-len(octets)+i] = octet
	}
	return ip, nil
}

// subnetOfListener returns the IP network (CIDR) of the interface that holds
// ip, the local address a listener is bound to.
func subnetOfListener(ip net.IP) (net.IPNet, error) {
	if ip == nil || ip.IsUnspecified() {
		return net.IPNet{}, fmt.Errorf("listener has unspecified IP %v", ip)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return net.IPNet{}, err
	}
	for _, ifi := range ifaces {
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			var ipnet *net.IPNet
			switch v := a.(type) {
			case *net.IPNet:
				ipnet = v
			case *net.IPAddr:
				ipnet = &net.IPNet{IP: v.IP, Mask: v.IP.DefaultMask()}
			default:
				continue
			}
			if ipnet == nil {
				continue
			}
			if ipnet.Contains(ip) || ipnet.IP.Equal(ip) {
				return *ipnet, nil
			}
		}
	}
	return net.IPNet{}, fmt.Errorf("no interface found for ip %v", ip)
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	ipaddr, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		ipaddr, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return ipaddr, port, nil
}

// isPartialIP reports whether host is one to three dot separated numbers,
// such as "42" or "15.42".
func isPartialIP(host string) bool {
	octets := strings.Split(host, ".")
	if len(octets) > 3 {
		return false
	}
	for _, o := range octets {
		if _, err := strconv.ParseUint(o, 10, 8); err != nil {
			return false
		}
	}
	return true
}

// resolvePeer turns the peer argument into a URL. Full URLs are kept as they
// are; a partial IP is completed from local, and a missing port defaults to
// defaultPort.
func resolvePeer(local net.IP, peer string, defaultPort int) (string, error) {
	if strings.Contains(peer, "://") {
		return peer, nil
	}
	host, port, err := splitHostPort(peer, defaultPort)
	if err != nil {
		return "", err
	}
	if isPartialIP(host) {
		if local == nil || local.IsUnspecified() {
			return "", fmt.Errorf("cannot complete %q without a bound local address", host)
		}
		ip, err := guessIpAddress(local.To4(), host)
		if err != nil {
			return "", err
		}
		host = ip.String()
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// advertiseURL returns the URL other nodes should use to reach a listener on
// addr. A configured URL wins; an unspecified bind address is replaced by the
// first non-loopback IPv4 address of the machine.
func advertiseURL(addr *net.TCPAddr, configured string, secure bool) (string, error) {
	if configured != "" {
		return configured, nil
	}
	ip := addr.IP
	if ip == nil || ip.IsUnspecified() {
		found, err := firstLANAddress()
		if err != nil {
			return "", err
		}
		ip = found
	}
	scheme := "http://"
	if secure {
		scheme = "https://"
	}
	return scheme + net.JoinHostPort(ip.String(), strconv.Itoa(addr.Port)), nil
}

func firstLANAddress() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return net.IPv4(127, 0, 0, 1), nil
}
