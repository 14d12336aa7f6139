package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/sgsupercars/storefront/internal/cli"
	"github.com/sgsupercars/storefront/internal/config"
	"github.com/sgsupercars/storefront/internal/upstream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	root := cli.NewRootCmd(func(baseURL string) (cli.Backend, error) {
		cfg, err := config.LoadClient()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(baseURL) == "" {
			baseURL = cfg.APIBaseURL
		}
		if strings.TrimSpace(baseURL) == "" {
			return nil, errors.New("set --api or API_BASE_URL")
		}
		return upstream.New(upstream.Config{
			BaseURL:     baseURL,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.RetryBase,
			Jitter:      cfg.Jitter,
			Logger:      zerolog.Nop(),
		})
	})
	code := cli.Execute(ctx, root, os.Args[1:])
	stop()
	os.Exit(code)
}
