package main

import (
	"context"
	"os"

	"PostForge/internal/cli"
)

func main() {
	if err := cli.RootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
