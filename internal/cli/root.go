package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/remoteconfig"
)

// Backend is what the commands need from the brokerage API.
type Backend interface {
	catalog.Source
	remoteconfig.Fetcher
}

// BackendFactory opens a Backend for the given base URL.
type BackendFactory func(baseURL string) (Backend, error)

type rootOptions struct {
	baseURL  string
	province string
	timeout  time.Duration
	asJSON   bool
}

// NewRootCmd builds the catalogctl command tree.
func NewRootCmd(open BackendFactory) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Inspect the storefront catalog and landed prices",
		Long:          "catalogctl prices and searches the brokerage catalog the same way the storefront API does.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "api", "", "brokerage API base URL (defaults to API_BASE_URL)")
	root.PersistentFlags().StringVar(&opts.province, "province", "BC", "province code or name used for pricing")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "overall request timeout")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")

	root.AddCommand(newPriceCmd(opts, open))
	root.AddCommand(newSearchCmd(opts, open))
	root.AddCommand(newWatchCmd(opts, open))
	return root
}

// Execute runs the command tree with args and reports any error on stderr.
func Execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

// session is a loaded catalog service bound to one backend.
type session struct {
	service *catalog.Service
	config  *remoteconfig.Store
}

func openSession(ctx context.Context, opts *rootOptions, open BackendFactory) (*session, error) {
	if open == nil {
		return nil, errors.New("catalogctl: backend not configured")
	}
	backend, err := open(opts.baseURL)
	if err != nil {
		return nil, err
	}
	store := remoteconfig.NewStore(backend, zerolog.Nop())
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Source:          backend,
		Charges:         store,
		DisplayProvince: opts.province,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		return nil, err
	}
	return &session{service: svc, config: store}, nil
}

func withTimeout(cmd *cobra.Command, opts *rootOptions) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.timeout)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
