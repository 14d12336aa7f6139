package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/pricing"
)

func newSearchCmd(opts *rootOptions, open BackendFactory) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Filter and order listings with storefront query parameters",
		Long:  "search accepts a query string such as \"make=Kia&minPrice=20000&orderBy=priceAsc\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()
			sess, err := openSession(ctx, opts, open)
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			result, err := runSearch(ctx, sess, raw, opts.province, limit)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts, result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	return cmd
}

func newWatchCmd(opts *rootOptions, open BackendFactory) *cobra.Command {
	var window time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Read queries line by line and search once typing settles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			loadCtx, cancel := withTimeout(cmd, opts)
			sess, err := openSession(loadCtx, opts, open)
			cancel()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			var firstErr error
			debouncer := catalog.NewDebouncer(window, func(raw string) {
				result, err := runSearch(ctx, sess, raw, opts.province, limit)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					fmt.Fprintf(out, "%q: %v\n", raw, err)
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				fmt.Fprintf(out, "%q: %d match(es)\n", raw, result.Total)
				_ = printResult(out, opts, result)
			})
			defer debouncer.Stop()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				debouncer.Update(strings.TrimSpace(scanner.Text()))
			}
			debouncer.Flush()
			if err := scanner.Err(); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return firstErr
		},
	}
	cmd.Flags().DurationVar(&window, "debounce", catalog.DefaultDebounce, "quiet period before a query runs")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	return cmd
}

func runSearch(ctx context.Context, sess *session, raw, province string, limit int) (catalog.SearchResult, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return catalog.SearchResult{}, fmt.Errorf("parse query: %w", err)
	}
	if values.Get("province") == "" && province != "" {
		values.Set("province", province)
	}
	if values.Get("limit") == "" && limit > 0 {
		values.Set("limit", fmt.Sprint(limit))
	}
	params, err := sess.service.ParseSearchParams(values)
	if err != nil {
		return catalog.SearchResult{}, err
	}
	return sess.service.Search(ctx, params)
}

func printResult(w io.Writer, opts *rootOptions, result catalog.SearchResult) error {
	if opts.asJSON {
		return writeJSON(w, result.Items)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CAR ID\tVEHICLE\tMILEAGE\tPRICE")
	for _, l := range result.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d km\t%s\n", l.CarID, l.Title(), l.Mileage, pricing.FormatCAD(l.FinalPrice))
	}
	fmt.Fprintf(tw, "\t%d of %d (%s)\t\t\n", len(result.Items), result.Total, result.Province.Code)
	return tw.Flush()
}
