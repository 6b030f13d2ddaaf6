package resolver

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

var (
	// ErrNoAddress indicates that the host has no IP address.
	ErrNoAddress = errors.New("host has no ip address")
	// ErrInvalidPort indicates that the port number in the address is invalid.
	ErrInvalidPort = errors.New("invalid port number")
)

// Resolve `hostport` to a TCP address. IPv4 addresses are preferred when the host has both kinds.
// Literal IP addresses are returned without a lookup.
func Resolve(ctx context.Context, hostport string, timeout time.Duration) (*net.TCPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, ErrInvalidPort
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ip, err = lookup(ctx, timeout, host)
		if err != nil {
			return nil, err
		}
	}
	if i4 := ip.To4(); i4 != nil {
		ip = i4
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

func lookup(ctx context.Context, timeout time.Duration, host string) (net.IP, error) {
	var cancel func()
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddress
	}
	for _, ia := range addrs {
		if i4 := ia.IP.To4(); i4 != nil {
			return i4, nil
		}
	}
	return addrs[0].IP, nil
}
