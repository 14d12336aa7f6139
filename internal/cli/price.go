package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgsupercars/storefront/internal/pricing"
)

func newPriceCmd(opts *rootOptions, open BackendFactory) *cobra.Command {
	var base float64
	cmd := &cobra.Command{
		Use:   "price [carId]",
		Short: "Show the landed price breakdown for a vehicle or a base price",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && base <= 0 {
				return fmt.Errorf("either a carId or --base is required")
			}
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()
			sess, err := openSession(ctx, opts, open)
			if err != nil {
				return err
			}
			province, err := sess.service.ResolveProvince(opts.province)
			if err != nil {
				return err
			}

			var breakdown pricing.Breakdown
			title := fmt.Sprintf("base %s", pricing.FormatCAD(int64(base)))
			if len(args) == 1 {
				detail, err := sess.service.Detail(ctx, args[0], province)
				if err != nil {
					return err
				}
				breakdown = detail.Breakdown
				title = detail.Vehicle.Title()
			} else {
				charges, err := sess.config.Charges(string(province))
				if err != nil {
					return err
				}
				breakdown = pricing.NewBreakdown(base, charges)
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, breakdown)
			}
			fmt.Fprintf(out, "%s (%s)\n", title, province)
			tw := newTable(out)
			fmt.Fprintf(tw, "Base price\t%s\n", pricing.FormatCAD(int64(breakdown.BasePrice)))
			for _, line := range breakdown.Lines {
				fmt.Fprintf(tw, "%s\t%s\n", line.Label, line.Display)
			}
			fmt.Fprintf(tw, "Total\t%s\n", pricing.FormatCAD(breakdown.FinalPrice))
			return tw.Flush()
		},
	}
	cmd.Flags().Float64Var(&base, "base", 0, "price an arbitrary CAD base price instead of a vehicle")
	return cmd
}
