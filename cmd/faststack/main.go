package main

import (
	"os"

	"github.com/faststack-io/faststack/internal/cli"
	"github.com/faststack-io/faststack/internal/logging"
)

func main() {
	logging.Init(os.Getenv("FASTSTACK_LOG_LEVEL"))

	if err := cli.Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}
