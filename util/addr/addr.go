// Package addr finds the address other hosts can reach this one on.
package addr

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	defaultPrivateBlocks []*net.IPNet

	ErrorIPNotFound = errors.New("no IP address found, and explicit IP not provided")
)

func init() {
	for _, b := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10", "fd00::/8"} {
		if _, block, err := net.ParseCIDR(b); err == nil {
			defaultPrivateBlocks = append(defaultPrivateBlocks, block)
		}
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, priv := range defaultPrivateBlocks {
		if priv.Contains(ip) {
			return true
		}
	}

	return false
}

func unspecified(host string) bool {
	return host == "" || host == "0.0.0.0" || host == "[::]" || host == "::"
}

func ipOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}

	return nil
}

// Extract returns addr unless it is empty or unspecified. Then it picks a
// private interface address, falling back to a public one and then loopback.
func Extract(addr string) (string, error) {
	if !unspecified(addr) {
		return addr, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get interfaces, err: %w", err)
	}

	var private, public, loopback net.IP

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range ifaceAddrs {
			ip := ipOf(a)
			if ip == nil || ip.IsLinkLocalUnicast() {
				continue
			}

			switch {
			case ip.IsLoopback():
				if loopback == nil {
					loopback = ip
				}
			case isPrivateIP(ip):
				if private == nil {
					private = ip
				}
			default:
				if public == nil {
					public = ip
				}
			}
		}
	}

	for _, ip := range []net.IP{private, public, loopback} {
		if ip != nil {
			return ip.String(), nil
		}
	}

	return "", ErrorIPNotFound
}

// LeaseHost names this machine in device leases: the host part of listen
// when it is specific, else an interface address, else the hostname.
func LeaseHost(listen string) (string, error) {
	host := listen

	if h, _, err := net.SplitHostPort(listen); err == nil {
		host = h
	}

	if !unspecified(host) {
		return host, nil
	}

	if ip, err := Extract(""); err == nil {
		return ip, nil
	}

	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("no lease host %w", err)
	}

	return name, nil
}
