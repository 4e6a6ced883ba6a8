// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultProbeInterval is how often InterfaceProbe inspects the interfaces.
const DefaultProbeInterval = 5 * time.Second

// InterfaceProbe is a Source that polls the local network interfaces and
// emits an event whenever the online state flips. The first inspection
// always emits.
type InterfaceProbe struct {
	Interval time.Duration

	// check reports whether a usable interface exists. Replaced in tests.
	check func() (bool, error)
	log   *log.Logger
}

// NewInterfaceProbe creates a probe with the given interval
// (DefaultProbeInterval when <= 0).
func NewInterfaceProbe(interval time.Duration) *InterfaceProbe {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &InterfaceProbe{
		Interval: interval,
		check:    hasUsableInterface,
		log:      log.Default().WithPrefix("offline"),
	}
}

// Run implements Source.
func (p *InterfaceProbe) Run(ctx context.Context, emit func(Event)) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	first := true
	var last bool
	for {
		online, err := p.check()
		if err != nil {
			// An unreadable interface table is treated as offline.
			p.log.Warn("interface probe failed", "err", err)
			online = false
		}
		if first || online != last {
			kind := EventOffline
			if online {
				kind = EventOnline
			}
			emit(Event{Kind: kind})
			first = false
			last = online
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// hasUsableInterface reports whether some non-loopback interface is up and
// carries a global unicast address.
func hasUsableInterface() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}
