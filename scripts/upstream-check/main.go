// upstream-check posts a minimal probe to each upstream endpoint named in an
// argo-proxy configuration file and reports any that fail. The process exits
// with code 1 if any probe fails, so it can gate deployments or run from a
// scheduled job.
//
// Usage:
//
//	go run ./scripts/upstream-check                      # proxy's config search paths
//	go run ./scripts/upstream-check -config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	argoproxy "github.com/argonne-lcf/argoproxy"
	"github.com/argonne-lcf/argoproxy/argo"
)

type probe struct {
	name string
	url  string
	run  func(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "", "path to the proxy config (default: the proxy's search paths)")
	timeout := flag.Duration("timeout", 15*time.Second, "per-probe timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	client := argo.NewClient()
	on := true
	probes := []probe{
		{
			name: "chat",
			url:  cfg.ArgoURL,
			run: func(ctx context.Context) error {
				_, err := client.PostJSON(ctx, cfg.ArgoURL, &argo.Payload{
					Model:    "gpt4o",
					User:     cfg.User,
					Messages: []argo.Message{{Role: "user", Content: "What are you?"}},
				})
				return err
			},
		},
		{
			name: "stream",
			url:  cfg.ArgoStreamURL,
			run: func(ctx context.Context) error {
				stream, err := client.PostStream(ctx, cfg.ArgoStreamURL, &argo.Payload{
					Model:    "gpt4o",
					User:     cfg.User,
					Stream:   &on,
					Messages: []argo.Message{{Role: "user", Content: "What are you?"}},
				})
				if err != nil {
					return err
				}
				defer stream.Close()
				if _, err := stream.Next(); err != nil && err != io.EOF {
					return err
				}
				return nil
			},
		},
		{
			name: "embedding",
			url:  cfg.ArgoEmbeddingURL,
			run: func(ctx context.Context) error {
				_, err := client.PostJSON(ctx, cfg.ArgoEmbeddingURL, &argo.Payload{
					Model:  "v3small",
					User:   cfg.User,
					Prompt: []string{"hello"},
				})
				return err
			},
		},
	}

	failures := make([]error, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), *timeout)
			defer cancel()
			failures[i] = p.run(ctx)
		}()
	}
	wg.Wait()

	failed := 0
	for i, p := range probes {
		if err := failures[i]; err != nil {
			failed++
			fmt.Printf("FAIL  %-10s %s: %v\n", p.name, p.url, err)
			continue
		}
		fmt.Printf("ok    %-10s %s\n", p.name, p.url)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d upstream endpoints failed\n", failed, len(probes))
		os.Exit(1)
	}
}

func loadConfig(path string) (*argoproxy.Config, error) {
	if path == "" {
		path = os.Getenv(argoproxy.EnvConfigPath)
	}
	if path != "" {
		return argoproxy.LoadPath(path)
	}
	for _, candidate := range argoproxy.SearchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return argoproxy.LoadPath(candidate)
		}
	}
	return nil, fmt.Errorf("no config file found in %v; pass -config", argoproxy.SearchPaths())
}
