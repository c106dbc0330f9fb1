package cmd

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"github.com/conneroisu/flick/internal/version"
)

// printBanner writes the startup summary: where to reach the server and
// the deep link a device opens to join the session.
func printBanner(w io.Writer, project, host string, port int, networkIPs []string) {
	fmt.Fprintf(w, "\nflick %s\n", version.GetShortVersion())
	fmt.Fprintf(w, "Project: %s\n\n", project)
	fmt.Fprintf(w, "  Local:   http://localhost:%d\n", port)

	if host != "0.0.0.0" && host != "::" && host != "" {
		fmt.Fprintf(w, "  Bound:   http://%s\n", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	for _, ip := range networkIPs {
		fmt.Fprintf(w, "  Network: http://%s\n", net.JoinHostPort(ip, strconv.Itoa(port)))
	}

	fmt.Fprintf(w, "\nConnect a device: %s\n\n", deepLink(connectHost(host, networkIPs), port))
}

// deepLink builds the flick://connect URL a device uses to join.
func deepLink(host string, port int) string {
	q := url.Values{}
	q.Set("host", host)
	q.Set("port", strconv.Itoa(port))
	return "flick://connect?" + q.Encode()
}

// connectHost picks the address a device on the LAN should dial.
func connectHost(host string, networkIPs []string) string {
	if host != "0.0.0.0" && host != "::" && host != "" {
		return host
	}
	if len(networkIPs) > 0 {
		return networkIPs[0]
	}
	return "localhost"
}

// listenPort extracts the bound port from addr, falling back to the
// configured one.
func listenPort(addr string, fallback int) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fallback
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fallback
	}
	return port
}

// localIPv4s lists the non-loopback IPv4 addresses of this machine.
func localIPv4s() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var ips []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			ips = append(ips, ip4.String())
		}
	}
	return ips
}
