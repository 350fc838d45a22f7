// Package main provides a container health probe that hits the liveness endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
)

func main() {
	port := os.Getenv(config.EnvPort)
	if port == "" {
		port = "10000"
	}

	client := &http.Client{Timeout: config.ReadinessCheck}
	url := fmt.Sprintf("http://localhost:%s/livez", port)

	resp, err := client.Get(url)
	if err != nil {
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
