package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/ai-digest/internal/orchestrator"
	"github.com/JakeFAU/ai-digest/internal/post"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// newCompareCmd calls every adapter for every account and prints how their
// results differ. Nothing is delivered.
func newCompareCmd(opts *rootOptions) *cobra.Command {
	var accounts []string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare adapters side by side without delivering",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var targets []post.AccountTarget
			if len(accounts) > 0 {
				var err error
				targets, err = post.ParseAccounts(accounts)
				if err != nil {
					return fmt.Errorf("--accounts: %w", err)
				}
			}
			return opts.withApp(cmd, func(ctx context.Context, app App) error {
				rep, err := app.Compare(ctx, targets)
				if err != nil {
					return err
				}
				return renderComparison(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringSliceVar(&accounts, "accounts", nil, "comma-separated account handles")
	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderComparison(w io.Writer, rep orchestrator.Report) error {
	attempts := newTable("ACCOUNT", "ADAPTER", "OUTCOME", "REASON", "ITEMS", "DURATION")
	overlaps := newTable("ACCOUNT", "A", "B", "SHARED", "ONLY A", "ONLY B")
	var overlapRows int
	for _, acct := range rep.Accounts {
		for _, at := range acct.Attempts {
			attempts.Row(
				acct.Account.Handle,
				at.Adapter,
				string(at.Outcome),
				string(at.Reason),
				strconv.Itoa(at.Items),
				at.Duration.Round(time.Millisecond).String(),
			)
		}
		for _, ov := range acct.Overlaps() {
			overlaps.Row(
				ov.Account,
				ov.A,
				ov.B,
				strconv.Itoa(ov.Shared),
				strconv.Itoa(ov.OnlyA),
				strconv.Itoa(ov.OnlyB),
			)
			overlapRows++
		}
	}

	if _, err := fmt.Fprintln(w, attempts.Render()); err != nil {
		return err
	}
	var err error
	if overlapRows == 0 {
		_, err = fmt.Fprintln(w, "no account had two successful adapters; no overlap to report")
	} else {
		_, err = fmt.Fprintln(w, overlaps.Render())
	}
	if err != nil {
		return err
	}
	if rep.BudgetExhausted {
		_, err = fmt.Fprintln(w, "run budget exhausted before every adapter finished")
	}
	return err
}
