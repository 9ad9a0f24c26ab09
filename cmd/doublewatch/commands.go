package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Alias1177/doublewatch/internal/analyze"
	"github.com/Alias1177/doublewatch/internal/baktest"
)

// --- collect ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Read the page once, store new rounds and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		sup, err := newSupervisor(store, nil)
		if err != nil {
			return err
		}
		before, err := store.Count(ctx)
		if err != nil {
			return err
		}

		// Start runs one full read before returning
		if err := sup.Start(ctx); err != nil {
			return err
		}
		st, statusErr := sup.Status(ctx)
		if err := sup.Stop(); err != nil {
			return err
		}
		if statusErr != nil {
			return statusErr
		}
		if st.LastError != "" {
			return errors.New(st.LastError)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d new rounds (%d total)\n", st.RecordCount-before, st.RecordCount)
		return nil
	},
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Print stats and the current suggestion for the stored window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		window, err := store.Latest(ctx, cfg.WindowSize)
		if err != nil {
			return err
		}

		out := map[string]any{
			"stats":      analyze.Summarize(window),
			"prediction": analyze.Predict(window),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// --- backtest ---

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the rule table over stored history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := baktest.RunBacktest(ctx, store, limit, cfg.WindowSize)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Rounds: %d  Signals: %d  Waits: %d\n", res.Rounds, res.Signals, res.Waits)
		fmt.Fprintf(out, "Wins: %d  Losses: %d  Win rate: %.2f%%  White hits: %d\n", res.Wins, res.Losses, res.WinRate, res.WhiteHits)
		fmt.Fprintf(out, "Max consecutive wins: %d  losses: %d\n\n", res.MaxConsecutive.Wins, res.MaxConsecutive.Losses)

		rules := make([]string, 0, len(res.ByRule))
		for name := range res.ByRule {
			rules = append(rules, name)
		}
		sort.Strings(rules)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tSIGNALS\tWINS\tLOSSES\tWIN RATE")
		for _, name := range rules {
			r := res.ByRule[name]
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f%%\n", name, r.Signals, r.Wins, r.Losses, r.WinRate)
		}
		return w.Flush()
	},
}

// --- purge ---

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored round",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("refusing to purge without --yes")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Purge(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History purged")
		return nil
	},
}

func init() {
	backtestCmd.Flags().Int("limit", 2000, "number of stored rounds to replay")
	purgeCmd.Flags().Bool("yes", false, "confirm deleting all rounds")

	rootCmd.AddCommand(collectCmd, predictCmd, backtestCmd, purgeCmd)
}
