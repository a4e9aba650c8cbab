package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/session"
	"github.com/jmcleod/emporia/storage"
)

type doctorResult struct {
	Origin string        `json:"origin"`
	Store  string        `json:"store"`
	Valid  bool          `json:"valid"`
	Checks []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *doctorResult) add(name, status, detail string) {
	if status == "fail" {
		r.Valid = false
	}
	r.Checks = append(r.Checks, checkResult{Name: name, Status: status, Detail: detail})
}

// categoryLister is the API call used to probe reachability.
type categoryLister interface {
	Categories(ctx context.Context) ([]api.Category, error)
}

// diagnose inspects persisted state without modifying it. catalog may be nil to
// skip the reachability probe.
func diagnose(ctx context.Context, store storage.Store, catalog categoryLister, now time.Time) doctorResult {
	result := doctorResult{Valid: true}

	// 1. Session entry.
	var tokens api.TokenPair
	err := storage.LoadJSON(store, storage.KeyAuthToken, &tokens)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result.add("session", "pass", "no session stored")
	case err != nil:
		result.add("session", "fail", err.Error())
	default:
		id, err := session.Decode(tokens.Access)
		switch {
		case err != nil:
			result.add("session", "fail", err.Error())
		case !id.ExpiresAt.IsZero() && id.ExpiresAt.Before(now):
			result.add("session", "warn", fmt.Sprintf("access token for %s expired at %s", id.DisplayName(), id.ExpiresAt.Format(time.RFC3339)))
		default:
			result.add("session", "pass", "logged in as "+id.DisplayName())
		}
		if err == nil && tokens.Refresh == "" {
			result.add("refresh_token", "warn", "no refresh credential stored")
		}
	}

	// 2. Cart entry.
	var lines []cart.Line
	err = storage.LoadJSON(store, storage.KeyCart, &lines)
	if err == nil {
		err = cart.CheckLines(lines)
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result.add("cart", "pass", "no cart stored")
	case err != nil:
		result.add("cart", "fail", err.Error())
	default:
		result.add("cart", "pass", fmt.Sprintf("%d line(s)", len(lines)))
	}

	// 3. API reachability. An unreachable API does not invalidate local state.
	if catalog != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := catalog.Categories(ctx); err != nil {
			result.add("api_reachable", "warn", err.Error())
		} else {
			result.add("api_reachable", "pass", "")
		}
	}

	return result
}

func printHumanDoctor(out io.Writer, result doctorResult) {
	fmt.Fprintf(out, "Client state: %s (%s)\n\n", result.Origin, result.Store)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(out, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(out, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(out)
	if result.Valid {
		fmt.Fprintf(out, "Result: HEALTHY (%d warning(s))\n", warnings)
	} else {
		fmt.Fprintf(out, "Result: CORRUPT (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

var (
	doctorJSONOutput bool
	doctorOffline    bool
	doctorFix        bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check persisted session and cart state",
	Long: `Reads the stored session and cart for the configured API origin and reports
entries that would be discarded on load. With --fix, corrupt entries are reset
the same way the client resets them at startup.`,
	Annotations: map[string]string{skipRestore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var catalog categoryLister
		if !doctorOffline {
			catalog = app.client
		}
		result := diagnose(cmd.Context(), app.store, catalog, time.Now())
		result.Origin = app.cfg.Origin()
		result.Store = app.cfg.Store

		out := cmd.OutOrStdout()
		if doctorJSONOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			printHumanDoctor(out, result)
		}

		if !result.Valid && doctorFix {
			app.sessions.Restore()
			app.cart.Restore()
			fmt.Fprintln(cmd.ErrOrStderr(), "Corrupt entries were reset.")
			return nil
		}
		if !result.Valid {
			_ = app.close()
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSONOutput, "json", false, "Output results as JSON")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip the API reachability check")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Reset corrupt entries")
}
