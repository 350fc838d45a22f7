// Package main provides the sales assistant server entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/app"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	application, err := app.Initialize(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
