package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	return newRootCmd().ExecuteContext(context.Background())
}
