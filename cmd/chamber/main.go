package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/vault-cli/chamber/internal/cli"
	"github.com/vault-cli/chamber/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// a second interrupt terminates immediately
		<-ctx.Done()
		stop()
	}()

	err := cli.Execute(ctx)
	stop()
	memguard.Purge()

	util.HandleError(err, "")
}
