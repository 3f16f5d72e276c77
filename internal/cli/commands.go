package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lazypower/affinity/internal/engine"
	"github.com/lazypower/affinity/internal/hooks"
	"github.com/lazypower/affinity/internal/ingest"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

// --- import command ---

var importNoRecalc bool

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import items from a JSONL content feed",
	Long:  "Upsert every item of a JSONL content feed, apply their manual links, then recalculate the whole graph. Malformed lines are reported and skipped.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	res, err := ingest.ParseFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range res.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skip line %d: %s\n", s.Line, s.Reason)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	created := 0
	for i := range res.Items {
		ok, err := a.db.UpsertItem(ctx, &res.Items[i])
		if err != nil {
			return fmt.Errorf("import item %d: %w", res.Items[i].ID, err)
		}
		if ok {
			created++
		}
	}
	// Manual links are applied once every item exists, so forward
	// references resolve.
	for _, it := range res.Items {
		if len(it.ManualLinks) == 0 {
			continue
		}
		if _, err := a.eng.SetManualLinks(ctx, it.ID, it.ManualLinks); err != nil {
			return fmt.Errorf("manual links of %d: %w", it.ID, err)
		}
	}
	fmt.Fprintf(out, "imported %d items (%d new, %d skipped lines)\n", len(res.Items), created, len(res.Skipped))

	if importNoRecalc {
		return nil
	}
	stats, err := a.eng.RecalculateAll(ctx)
	if err != nil {
		return err
	}
	printBatch(cmd, stats)
	return nil
}

// --- recalc command ---

var recalcCmd = &cobra.Command{
	Use:   "recalc <id>",
	Short: "Recalculate the links of one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.eng.RecalculateForItem(cmd.Context(), id)
		if err != nil {
			return err
		}
		if stats.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "item %d is missing or hidden from the graph, nothing to do\n", id)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "item %d: %d auto links from %d candidates, %d manual links kept\n",
			id, stats.AutoLinksFound, stats.ScoredCandidates, stats.ManualLinksKept)
		return nil
	},
}

// --- sweep command ---

var (
	sweepAll  bool
	sweepSize int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recalculate the stalest items, or every item with --all",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var stats engine.BatchStats
		if sweepAll {
			stats, err = a.eng.RecalculateAll(cmd.Context())
		} else {
			stats, err = a.eng.RecalculateBatch(cmd.Context(), sweepSize)
		}
		printBatch(cmd, stats)
		return err
	},
}

func printBatch(cmd *cobra.Command, stats engine.BatchStats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sweep %s (%s): %d items processed, %d links created in %.2fs\n",
		stats.RunID, stats.Trigger, stats.TotalProcessed, stats.TotalLinksCreated, stats.ProcessingTimeSeconds)
	for _, e := range stats.Errors {
		if e.CandidateID != 0 {
			fmt.Fprintf(out, "  item %d (candidate %d): %s\n", e.ItemID, e.CandidateID, e.Message)
		} else {
			fmt.Fprintf(out, "  item %d: %s\n", e.ItemID, e.Message)
		}
	}
}

// --- score command ---

var scoreCmd = &cobra.Command{
	Use:   "score <a> <b>",
	Short: "Score a pair of items and show each factor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ida, err := parseID(args[0])
		if err != nil {
			return err
		}
		idb, err := parseID(args[1])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.eng.Explain(cmd.Context(), ida, idb)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d <-> %d: %d (%s)\n", ida, idb, res.Score, res.Strength)

		names := make([]string, 0, len(res.Factors))
		for name := range res.Factors {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if res.Factors[names[i]] != res.Factors[names[j]] {
				return res.Factors[names[i]] > res.Factors[names[j]]
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			fmt.Fprintf(out, "  %-24s %6.1f\n", name, res.Factors[name])
		}
		return nil
	},
}

// --- links command ---

var linksCmd = &cobra.Command{
	Use:   "links <id>",
	Short: "List the related items of one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		ids, err := a.eng.GetEffectiveLinks(ctx, id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintf(out, "item %d has no links\n", id)
			return nil
		}
		for i, target := range ids {
			it, err := a.db.GetItem(ctx, target)
			if err != nil {
				return err
			}
			title := "(missing)"
			if it != nil {
				title = it.Title
			}
			fmt.Fprintf(out, "%d. %d %s\n", i+1, target, title)
		}
		return nil
	},
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats <id>",
	Short: "Show link counts and graph state of one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.eng.GetRelationshipStats(cmd.Context(), id)
		if err != nil {
			return err
		}
		state, err := a.eng.ItemState(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "item %d [%s]: %d auto, %d manual, %d total\n",
			id, state, stats.AutoCount, stats.ManualCount, stats.TotalCount)
		return nil
	},
}

// --- delete command ---

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an item and scrub it from every link set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		deleted, err := a.eng.DeleteItem(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "item %d not found, references scrubbed\n", id)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "item %d deleted\n", id)
		return nil
	},
}

// --- hook command ---

var hookCmd = &cobra.Command{
	Use:   "hook <created|updated|deleted> [id]",
	Short: "Notify a running server of a content change",
	Long:  "Called by the CMS after a save or delete. Without an id, reads {\"item_id\":N} from stdin. Always exits 0.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "affinity hook: missing event")
			return
		}
		id := ""
		if len(args) > 1 {
			id = args[1]
		}
		hooks.Handle(args[0], id, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	importCmd.Flags().BoolVar(&importNoRecalc, "no-recalc", false, "skip the full recalculation after import")

	sweepCmd.Flags().BoolVar(&sweepAll, "all", false, "recalculate every eligible item")
	sweepCmd.Flags().IntVar(&sweepSize, "size", 0, "items per page (default: graph.batch_size)")
}
