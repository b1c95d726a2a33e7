// Package netutil binds the capture server's listener.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

// ErrNoAddr is returned when neither the preferred address nor any
// candidate could be bound.
var ErrNoAddr = errors.New("no capture server bind address available")

// Listen binds preferred, or with fallback the first candidate that is free.
// The listener is returned already bound so no other process can take the
// port between selection and serve.
func Listen(preferred string, candidates []string, fallback bool) (net.Listener, error) {
	tried := make([]string, 0, len(candidates)+1)
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !fallback {
			return nil, fmt.Errorf("bind %s: %w", preferred, err)
		}
		tried = append(tried, preferred)
	}
	for _, addr := range candidates {
		if slices.Contains(tried, addr) {
			continue
		}
		tried = append(tried, addr)
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("%w (tried %s)", ErrNoAddr, strings.Join(tried, ", "))
}

// ParseCandidates splits a comma separated address list, dropping blanks.
func ParseCandidates(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
