// Package rttcheck implements policy 9's periodic backhaul reachability
// probe: a small ICMP RTT check shelled out to the system ping binary,
// scoped to one interface.
package rttcheck

import (
	"context"
	"fmt"
	"os/exec"
)

// Prober runs ping against a target host through one network interface.
type Prober struct {
	host  string
	count int
}

// NewProber builds a Prober targeting host, sending count echo requests per
// Check call.
func NewProber(host string, count int) *Prober {
	if count < 1 {
		count = 3
	}
	return &Prober{host: host, count: count}
}

// Check sends Prober's configured echo count to its target host through
// iface and returns an error when ping exits with a non-zero status. ctx
// bounds the whole probe, including process teardown.
func (p *Prober) Check(ctx context.Context, iface string) error {
	cmd := exec.CommandContext(ctx, "ping", "-c", fmt.Sprintf("%d", p.count), "-I", iface, p.host)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rtt backhaul check failed on %s: %w", iface, err)
	}
	return nil
}
