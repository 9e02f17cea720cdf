package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"abuse-guard/internal/config"
	"abuse-guard/middleware/ratelimit/application"

	"github.com/spf13/cobra"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(f string) error {
	if f != formatTable && f != formatJSON {
		return fmt.Errorf("unsupported output format: %s", f)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func newStatusCommand(load EngineLoader) *cobra.Command {
	var email, ip, format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show counters, violations and lockout for a user and/or IP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if strings.TrimSpace(email) == "" && strings.TrimSpace(ip) == "" {
				return errors.New("--email or --ip is required")
			}
			return withEngine(cmd, load, func(engine *application.Engine) error {
				st, err := engine.Admin.Status(cmd.Context(), email, ip)
				if err != nil {
					return err
				}
				if format == formatJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				return writeStatusTable(cmd.OutOrStdout(), st)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User identifier (email)")
	cmd.Flags().StringVar(&ip, "ip", "", "Client IP address")
	cmd.Flags().StringVar(&format, "output-format", formatTable, "Output format: table|json")
	return cmd
}

func writeStatusTable(w io.Writer, st application.Status) error {
	var b strings.Builder
	if st.User != nil {
		fmt.Fprintf(&b, "user %s: %d/%d attempts, %d remaining, resets in %ds\n",
			st.Email, st.User.Count, st.User.Limit, st.User.Remaining, st.User.ResetInSeconds)
		fmt.Fprintf(&b, "user violations (24h): %d\n", st.UserViolations)
	}
	if st.IPCounter != nil {
		fmt.Fprintf(&b, "ip %s: %d/%d attempts, %d remaining, resets in %ds\n",
			st.IP, st.IPCounter.Count, st.IPCounter.Limit, st.IPCounter.Remaining, st.IPCounter.ResetInSeconds)
		fmt.Fprintf(&b, "ip violations (24h): %d\n", st.IPViolations)
		fmt.Fprintf(&b, "distinct users on ip: %d\n", st.DistinctUsersOnIP)
		fmt.Fprintf(&b, "whitelisted: %v  blacklisted: %v\n", st.Whitelisted, st.Blacklisted)
	}
	if st.Lockout.Active {
		fmt.Fprintf(&b, "lockout: active, %ds remaining\n", st.Lockout.RemainingSeconds)
	} else {
		b.WriteString("lockout: none\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func newResetCommand(load EngineLoader) *cobra.Command {
	var email, ip, format string
	var yes, dryRun bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear counters, violation logs and lockouts for a user and/or IP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if strings.TrimSpace(email) == "" && strings.TrimSpace(ip) == "" {
				return errors.New("--email or --ip is required")
			}
			if !yes && !dryRun {
				return errors.New("reset requires --yes (or use --dry-run)")
			}

			req := application.ResetRequest{Email: email, IP: ip}
			return withEngine(cmd, load, func(engine *application.Engine) error {
				out := cmd.OutOrStdout()
				if dryRun {
					keys := engine.Admin.PlanReset(req)
					if format == formatJSON {
						return writeJSON(out, map[string]any{"dry_run": true, "keys": keys})
					}
					fmt.Fprintf(out, "Would delete %d key(s) plus matching api counters and lockout flags\n", len(keys))
					for _, k := range keys {
						fmt.Fprintf(out, "  %s\n", k)
					}
					return nil
				}

				res, err := engine.Admin.Reset(cmd.Context(), operator(), req)
				if err != nil {
					return err
				}
				if format == formatJSON {
					return writeJSON(out, res)
				}
				_, err = fmt.Fprintf(out, "Deleted %d key(s) and %d api counter(s), cleared %d lockout(s)\n",
					len(res.Keys), res.APICountersPurged, res.LockoutsCleared)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User identifier (email)")
	cmd.Flags().StringVar(&ip, "ip", "", "Client IP address")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm destructive reset")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be deleted")
	cmd.Flags().StringVar(&format, "output-format", formatTable, "Output format: table|json")
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with guard rule files",
	}

	var format string
	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rules file (YAML or JSON) against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			cfg, err := config.LoadRules(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatJSON {
				return writeJSON(out, cfg)
			}
			_, err = fmt.Fprintf(out, "%s: ok (login limit %d per %dm, %d api endpoint(s), progressive penalties %v)\n",
				args[0], cfg.LoginAttempts.Limit, cfg.LoginAttempts.WindowMinutes,
				len(cfg.APIEndpoints), cfg.ProgressivePenalties.Enabled)
			return err
		},
	}
	validate.Flags().StringVar(&format, "output-format", formatTable, "Output format: table|json")

	cmd.AddCommand(validate)
	return cmd
}
