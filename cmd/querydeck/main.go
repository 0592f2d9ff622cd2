// Package main provides the querydeck command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/querydeck/internal/cli"

	// Register backends via init()
	_ "github.com/leapstack-labs/querydeck/pkg/backend/duckdb"
	_ "github.com/leapstack-labs/querydeck/pkg/backend/postgres"
	_ "github.com/leapstack-labs/querydeck/pkg/backend/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
