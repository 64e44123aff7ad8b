package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/klipach/courier/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil && a.logger != nil {
		a.logger.Warn("shutdown", log.Err(closeErr))
	}
	if err != nil {
		os.Exit(1)
	}
}
