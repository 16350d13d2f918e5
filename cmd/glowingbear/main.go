// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command glowingbear is the explore client of a federated i2b2 network.
//
// It runs explore queries across all nodes, reverse maps saved panels back
// into constraints, fetches cohort patient lists, serves the same
// operations to a UI through the local gateway, and can run a mock node
// for development.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lca1/glowing-bear/pkg/ux"
	"github.com/lca1/glowing-bear/services/explore/crypto"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	crypto.PurgeAll()
	if err != nil {
		ux.NewPrinter(os.Stderr, ux.DetectLevel(os.Stderr)).Error(err.Error())
		os.Exit(exitCode(err))
	}
}
