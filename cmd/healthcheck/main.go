// Package main performs a single GET against the local assetgate /health
// endpoint and reports the result through its exit code, so distroless
// images can run a liveness check without a shell. The target port follows
// ASSETGATE_PORT when set.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	port := os.Getenv("ASSETGATE_PORT")
	if port == "" {
		port = "8080"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
