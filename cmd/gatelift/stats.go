package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gatelift/gatelift/pkg/config"
	"github.com/gatelift/gatelift/pkg/history"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		host       string
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show solve history statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			hist, err := history.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer hist.Close()

			ctx := context.Background()

			// Recent solves view
			if recent > 0 {
				recs, err := hist.Recent(ctx, host, recent)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No solves recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tHOST\tALGORITHM\tDIFFICULTY\tNONCE\tELAPSED MS\tOUTCOME")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Host, r.Algorithm,
						r.Difficulty, r.Nonce, r.ElapsedMS, r.Outcome)
				}
				return w.Flush()
			}

			// Default: per-host summary
			summaries, err := hist.Summary(ctx, host)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No solves recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tALGORITHM\tSOLVES\tREDEEMED\tAVG ELAPSED MS")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.0f\n",
					s.Host, s.Algorithm, s.Solves, s.Redeemed, s.AvgElapsedMS)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gatelift.yaml", "path to config file")
	cmd.Flags().StringVar(&host, "host", "", "filter by origin host")
	cmd.Flags().IntVar(&recent, "recent", 0, "show the N most recent solves instead of the summary")
	return cmd
}
