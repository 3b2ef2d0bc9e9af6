// Command shapersim runs token-bucket shaper simulations from YAML scenarios.
//
// Usage:
//
//	shapersim run --config demo.yaml --token-rate 4
//	shapersim run --duration 120 --probe "every 30s" --json
//	shapersim validate demo.yaml
//	shapersim batch low.yaml high.yaml --workers 2
//	shapersim list --redis-addr localhost:6379
//	shapersim show demo --redis-addr localhost:6379
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "shapersim:", err)
		os.Exit(1)
	}
}
