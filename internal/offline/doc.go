// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline tracks whether the machine appears to have network
// connectivity.
//
// The signal is local and best-effort: a Monitor reflects what the network
// interfaces report, not whether the completion endpoint is reachable. A
// host that looks online but cannot reach the endpoint surfaces as a
// transport error from the cloud client instead.
//
// # Key Types
//
//   - Status: online flag plus optional link-quality hints
//   - Monitor: push-based observable of Status
//   - Source: producer of connectivity events (InterfaceProbe ships here)
//
// # Usage
//
//	mon := offline.NewMonitor(true)
//	unsubscribe := mon.Subscribe(func(s offline.Status) {
//		fmt.Println(offline.StatusBadge(s))
//	})
//	defer unsubscribe()
//	go mon.Run(ctx, offline.NewInterfaceProbe(5*time.Second))
//
// Forced offline mode (config offline_mode or AZCHAT_OFFLINE=1) makes the
// monitor report offline no matter what the interfaces say.
package offline
