package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"abuse-guard/middleware/ratelimit/domain"
	"abuse-guard/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
)

func newStatsCommand(load StatsLoader) *cobra.Command {
	var guard, format string
	var top int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show decision totals and top denied identifiers recorded by the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			g := domain.Guard(strings.ToLower(strings.TrimSpace(guard)))
			if g != domain.GuardLogin && g != domain.GuardAPI {
				return fmt.Errorf("--guard must be %q or %q", domain.GuardLogin, domain.GuardAPI)
			}
			if top < 0 {
				return errors.New("--top must be >= 0")
			}

			reader, closeFn, err := load(cmd.Context())
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}

			sum, err := reader.Summary(cmd.Context(), g, top)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			return writeStatsTable(cmd.OutOrStdout(), sum)
		},
	}

	cmd.Flags().StringVar(&guard, "guard", string(domain.GuardLogin), "Guard: login|api")
	cmd.Flags().IntVar(&top, "top", 10, "Number of most denied identifiers to list (0 disables)")
	cmd.Flags().StringVar(&format, "output-format", formatTable, "Output format: table|json")
	return cmd
}

func writeStatsTable(w io.Writer, sum infra.StatsSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d allowed (%d fail-open), %d denied\n",
		sum.Guard, sum.Total.Allowed, sum.Total.FailOpen, sum.Total.Denied)

	reasons := make([]string, 0, len(sum.Reasons))
	for r := range sum.Reasons {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "  %s: %d\n", r, sum.Reasons[domain.Reason(r)])
	}

	endpoints := make([]string, 0, len(sum.Endpoints))
	for ep := range sum.Endpoints {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	for _, ep := range endpoints {
		c := sum.Endpoints[ep]
		fmt.Fprintf(&b, "endpoint %s: %d allowed, %d denied\n", ep, c.Allowed, c.Denied)
	}

	if len(sum.TopOffenders) > 0 {
		b.WriteString("top denied:\n")
		for i, o := range sum.TopOffenders {
			fmt.Fprintf(&b, "  %d. %s (%d)\n", i+1, o.Identifier, o.Denied)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
