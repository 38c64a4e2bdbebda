package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gatelift/gatelift/pkg/config"
	storepkg "github.com/gatelift/gatelift/pkg/tokencache/sqlite"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted token cache",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s, err := storepkg.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			recs, err := s.LoadAll(context.Background())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No tokens persisted.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tVERSION\tISSUED\tEXPIRES")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.Host, r.Version,
					r.IssuedAt.Format("2006-01-02T15:04:05"),
					r.ExpiresAt.Format("2006-01-02T15:04:05"))
			}
			return w.Flush()
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear persisted session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s, err := storepkg.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Clear(context.Background(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired tokens cleared.")
			} else {
				fmt.Println("All tokens cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired tokens")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gatelift.yaml", "path to config file")
	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}
