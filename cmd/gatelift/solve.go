package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatelift/gatelift/pkg/challenge"
	"github.com/gatelift/gatelift/pkg/config"
	"github.com/gatelift/gatelift/pkg/solver"
	"github.com/gatelift/gatelift/pkg/submit"
)

// newSolveCmd is the one-shot path: clear a single URL's challenge and
// print the session cookie, without running the proxy.
func newSolveCmd() *cobra.Command {
	var (
		workers   int
		timeout   time.Duration
		userAgent string
		progress  bool
	)

	cmd := &cobra.Command{
		Use:   "solve <url>",
		Short: "Solve the challenge guarding a URL and print the session cookie",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse url: %w", err)
			}
			if target.Scheme != "http" && target.Scheme != "https" {
				return fmt.Errorf("unsupported scheme %q", target.Scheme)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := &http.Client{
				CheckRedirect: func(req *http.Request, via []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}

			body, _, err := get(ctx, client, target.String(), userAgent)
			if err != nil {
				return err
			}

			parsed, err := challenge.Parse(body)
			if err != nil {
				return err
			}
			desc := parsed.Descriptor
			fmt.Printf("Challenge: algorithm=%s difficulty=%d version=%s\n",
				desc.Algorithm(), desc.Rules.Difficulty, parsed.Version)

			opts := solver.Options{Workers: workers}
			if progress {
				opts.Progress = func(nonce uint64) {
					fmt.Printf("  searching... nonce=%d\n", nonce)
				}
			}

			start := time.Now()
			result, err := solver.Solve(ctx, desc, opts)
			if err != nil {
				return fmt.Errorf("solve: %w", err)
			}
			fmt.Printf("Solved: nonce=%d attempts=%d elapsed=%s\n",
				result.Nonce, result.Attempts, result.Elapsed.Round(time.Millisecond))

			if remaining := desc.MinWait() - time.Since(start); remaining > 0 {
				fmt.Printf("Waiting %s before redeeming...\n", remaining.Round(time.Millisecond))
				select {
				case <-time.After(remaining):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			submitURL := submit.Build(target.Scheme, target.Host, desc, result, target.String(), time.Since(start).Milliseconds())
			_, resp, err := get(ctx, client, submitURL, userAgent)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusFound {
				return fmt.Errorf("redemption rejected with status %d", resp.StatusCode)
			}

			cookies := resp.Cookies()
			if len(cookies) == 0 {
				fmt.Println("Redeemed, but no cookie was returned.")
				return nil
			}
			for _, c := range cookies {
				fmt.Printf("Cookie: %s=%s\n", c.Name, c.Value)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker goroutines for the nonce search (0 = all CPUs)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall timeout")
	cmd.Flags().StringVar(&userAgent, "user-agent", config.DefaultUserAgent, "User-Agent header")
	cmd.Flags().BoolVar(&progress, "progress", false, "print search progress")
	return cmd
}

func get(ctx context.Context, client *http.Client, rawURL, userAgent string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, nil, err
	}
	return body, resp, nil
}
