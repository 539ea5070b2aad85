package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/xphere-collector/cmd/collector/commands"
)

func main() {
	_, _ = maxprocs.Set()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.ExecuteContext(ctx)
	stop()
	os.Exit(code)
}
