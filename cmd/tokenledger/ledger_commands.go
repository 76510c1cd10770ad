package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close() //nolint:errcheck // best-effort

			if err := s.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s store\n", cfg.Store.Driver)
			return nil
		},
	}
}

func newBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance USER",
		Short: "Show a user's balance and subscription tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return ctx.withLedger(cmd.Context(), cmd.ErrOrStderr(), func(l *tokenledger.Ledger) error {
				b, err := l.Balance(cmd.Context(), userID)
				if err != nil {
					return err
				}
				tier := catalog.TierFree
				if rec, err := l.Subscription(cmd.Context(), userID); err == nil {
					tier = rec.EffectiveTier()
				} else if !tokenledger.IsNotFound(err) {
					return err
				}

				rows := [][]string{{
					b.UserID,
					string(tier),
					strconv.FormatInt(b.TokensUsed, 10),
					strconv.FormatInt(b.TokensRemaining, 10),
					formatDate(b.ResetDate),
				}}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"User", "Tier", "Used", "Remaining", "Resets"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history USER",
		Short: "List a user's most recent transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return ctx.withLedger(cmd.Context(), cmd.ErrOrStderr(), func(l *tokenledger.Ledger) error {
				txs, err := l.History(cmd.Context(), userID, limit)
				if err != nil {
					return err
				}
				if len(txs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transactions")
					return nil
				}

				rows := make([][]string, 0, len(txs))
				for _, t := range txs {
					rows = append(rows, []string{
						t.CreatedAt.UTC().Format(time.RFC3339),
						string(t.Type),
						strconv.FormatInt(t.TokensUsed, 10),
						t.ContentID,
						t.ID.String(),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"When", "Type", "Tokens", "Content", "ID"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of transactions (default from ledger.history_limit)")
	return cmd
}

func newGrantCommand(ctx *commandContext) *cobra.Command {
	var until string

	cmd := &cobra.Command{
		Use:   "grant USER TIER",
		Short: "Overwrite a user's balance with a tier's full allotment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			tier, ok := catalog.ParseTierStrict(args[1])
			if !ok {
				return fmt.Errorf("unknown tier %q (want FREE, PRO or ENTERPRISE)", args[1])
			}

			var periodEnd time.Time
			if until != "" {
				t, err := time.Parse(time.DateOnly, until)
				if err != nil {
					return fmt.Errorf("--until: %w", err)
				}
				periodEnd = t.UTC()
			}

			return ctx.withLedger(cmd.Context(), cmd.ErrOrStderr(), func(l *tokenledger.Ledger) error {
				b, err := l.Grant(cmd.Context(), userID, tier, periodEnd)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %d tokens (%s) to %s, resets %s\n",
					b.TokensRemaining, tier, userID, formatDate(b.ResetDate))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&until, "until", "", "Period end as YYYY-MM-DD (default: start of next month)")
	return cmd
}

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show operation costs and tier allotments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			c := catalog.Default()
			if cfg.Ledger.ContentAnalysisCost > 0 {
				c = catalog.New(catalog.WithCost(catalog.OpContentAnalysis, cfg.Ledger.ContentAnalysisCost))
			}

			prices := make([][]string, 0, len(c.Operations()))
			for _, p := range c.Prices() {
				prices = append(prices, []string{string(p.Operation), strconv.FormatInt(p.Cost, 10)})
			}
			for _, op := range c.Unpriced() {
				prices = append(prices, []string{string(op), "unpriced"})
			}

			allotments := c.Allotments()
			tiers := make([]string, 0, len(allotments))
			for t := range allotments {
				tiers = append(tiers, string(t))
			}
			sort.Slice(tiers, func(i, j int) bool {
				return allotments[catalog.Tier(tiers[i])] < allotments[catalog.Tier(tiers[j])]
			})
			tierRows := make([][]string, 0, len(tiers))
			for _, t := range tiers {
				tierRows = append(tierRows, []string{t, strconv.FormatInt(allotments[catalog.Tier(t)], 10)})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Operation", "Cost"}, prices, []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintln(out, renderTable([]string{"Tier", "Monthly tokens"}, tierRows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.DateOnly)
}
