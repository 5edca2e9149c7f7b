package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/vault"
)

func newStatsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show item statistics for the vault",
		Long: `Unlock the vault and summarize its contents: item counts per kind, the
age of the oldest item, recent activity and password lengths. Values are
never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStats(time.Now())
		},
	}
}

func (a *App) runStats(now time.Time) error {
	t, err := a.resolveTarget()
	if err != nil {
		return err
	}

	var items []domain.Item
	err = a.withUnlockedVault(func(v *vault.Vault) error {
		items, err = v.ListItems()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read items: %w", err)
	}
	s := domain.Summarize(items, now)

	title := "Vault Statistics"
	if t.name != "" {
		title += " (" + t.name + ")"
	}
	fmt.Fprintln(a.Out, title)
	fmt.Fprintln(a.Out, strings.Repeat("=", len(title)))
	fmt.Fprintf(a.Out, "Path: %s\n", t.path)
	if s.Total == 0 {
		fmt.Fprintln(a.Out, "\nNo items found.")
		return nil
	}

	days := func(d time.Duration) int { return int(d.Hours() / 24) }

	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nOverview:")
	fmt.Fprintf(w, "  Total items:\t%d\n", s.Total)
	fmt.Fprintf(w, "  Vault age:\t%d days (oldest item)\n", days(now.Sub(s.Oldest)))
	fmt.Fprintf(w, "  Last activity:\t%d days ago\n", days(now.Sub(s.LastActivity)))
	fmt.Fprintf(w, "  Recently updated (30 days):\t%d\n", s.RecentlyUpdated)

	fmt.Fprintln(w, "\nItems by kind:")
	for _, kc := range s.ByKind {
		pct := float64(kc.Count) / float64(s.Total) * 100
		fmt.Fprintf(w, "  %s:\t%d\t(%.1f%%)\n", kc.Kind.DisplayName(), kc.Count, pct)
	}

	if s.Passwords > 0 {
		fmt.Fprintln(w, "\nPasswords:")
		fmt.Fprintf(w, "  Average length:\t%.1f characters\n", s.AvgPasswordLength)
		fmt.Fprintf(w, "  Length range:\t%d - %d characters\n", s.MinPasswordLength, s.MaxPasswordLength)
	}
	return w.Flush()
}
