package main

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// localHosts lists host strings a user may pick to reach this machine:
// the host name (and its fully qualified form when known), localhost, then
// non-loopback addresses followed by loopback addresses.
func localHosts() []string {
	var hosts []string

	name, _ := os.Hostname()
	if name != "" {
		hosts = append(hosts, name)
		if cname, err := net.LookupCNAME(name); err == nil {
			if fqdn := strings.TrimSuffix(cname, "."); fqdn != "" && fqdn != name {
				hosts = append(hosts, fqdn)
			}
		}
	}
	if name != "localhost" {
		hosts = append(hosts, "localhost")
	}

	ips := interfaceIPs()
	for _, ip := range ips {
		if !ip.IsLoopback() {
			hosts = append(hosts, ip.String())
		}
	}
	for _, ip := range ips {
		if ip.IsLoopback() {
			hosts = append(hosts, ip.String())
		}
	}
	return hosts
}

// statusIP returns the first non-loopback IPv4 address, or 127.0.0.1.
func statusIP() string {
	for _, ip := range interfaceIPs() {
		if !ip.IsLoopback() && ip.To4() != nil {
			return ip.String()
		}
	}
	return "127.0.0.1"
}

func serverStatus(ip string, port int) string {
	return fmt.Sprintf("The server is running on\n\nIP: %s\nport: %d\n\nRun the fortune client now.", ip, port)
}

func interfaceIPs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}
	return ips
}
