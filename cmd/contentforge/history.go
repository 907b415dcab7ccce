package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and maintain the deduplication history",
}

var historyLimit int

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest history records",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(cmd.Context(), db)
		if err != nil {
			return err
		}
		defer store.Close()

		records := store.Recent(historyLimit)
		if len(records) == 0 {
			fmt.Println("History is empty. Generate something with: contentforge generate --topic ...")
			return nil
		}

		for _, r := range records {
			unit := r.Unit
			if unit == "" {
				unit = "-"
			}
			fmt.Printf("  %s  %-10s %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"), unit, cyan(r.Title))
			if r.Topic != "" {
				fmt.Printf("        topic: %s\n", r.Topic)
			}
		}
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show history statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(cmd.Context(), db)
		if err != nil {
			return err
		}
		defer store.Close()

		st := store.Stats()
		rules := store.Rules()
		fmt.Printf("Records: %d / %d (version %d)\n", st.Total, st.Capacity, st.Version)
		if st.Total > 0 {
			fmt.Printf("Oldest: %s\n", st.Oldest.Local().Format("2006-01-02 15:04"))
			fmt.Printf("Newest: %s\n", st.Newest.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("Rules: recent window %d, topic limit %d, lookback %s\n",
			rules.RecentWindow, rules.TopicReuseLimit, rules.Lookback)

		printCounts("By unit", st.ByUnit)
		printCounts("By topic", st.ByTopic)
		return nil
	},
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	type kv struct {
		key string
		val int
	}
	var sorted []kv
	for k, v := range counts {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].val != sorted[j].val {
			return sorted[i].val > sorted[j].val
		}
		return sorted[i].key < sorted[j].key
	})

	fmt.Printf("\n%s:\n", title)
	for _, s := range sorted {
		fmt.Printf("  %s: %d\n", s.key, s.val)
	}
}

var pruneMaxAge time.Duration

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop history records older than --max-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(cmd.Context(), db)
		if err != nil {
			return err
		}
		defer store.Close()

		maxAge := cfg.History.MaxAge
		if cmd.Flags().Changed("max-age") {
			maxAge = pruneMaxAge
		}
		removed, err := store.Prune(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d record(s) older than %s, %d left\n", removed, maxAge, store.Len())
		return nil
	},
}

var exportPath string

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the history as a JSON document",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(cmd.Context(), db)
		if err != nil {
			return err
		}
		defer store.Close()

		data, err := json.MarshalIndent(store.Document(), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding history: %w", err)
		}
		if exportPath == "" || exportPath == "-" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(exportPath, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported %d record(s) to %s\n", store.Len(), exportPath)
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
	historyPruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 0, "Maximum record age (default from config)")
	historyExportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Write to file instead of stdout")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyExportCmd)
}
