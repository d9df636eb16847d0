package commands

import (
	"os"
	"os/signal"
	"syscall"
)

func interrupted() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
