package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/contentforge/internal/cascade"
	"github.com/TobiSchelling/contentforge/internal/config"
	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/generate"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/orchestrator"
	"github.com/TobiSchelling/contentforge/internal/redisstore"
	"github.com/TobiSchelling/contentforge/internal/research"
	"github.com/TobiSchelling/contentforge/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "contentforge",
	Short:        "Resilient LLM content generation",
	Long:         "contentforge generates unique, quality-checked articles through a cascade of LLM providers.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		config.LoadEnv()
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("contentforge", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/contentforge/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure providers, units, and research feeds.")
		fmt.Println("API keys are read from the environment or a .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show providers, history and run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println("Providers (in cascade order):")
		for _, d := range cascade.New(cfg.ProviderDescriptors(), nil).Providers() {
			state := green("ready")
			if !llm.IsConfigured(d) {
				state = yellow("missing " + d.APIKeyEnv)
			}
			fmt.Printf("  %d. %-12s %-10s %-28s %s\n", d.Priority, d.ID, d.Kind, d.Model, state)
		}

		store, err := openStore(ctx, db)
		if err != nil {
			return err
		}
		defer store.Close()

		st := store.Stats()
		fmt.Printf("\nHistory (%s backend):\n", cfg.History.Backend)
		fmt.Printf("  Records: %d / %d\n", st.Total, st.Capacity)
		if st.Total > 0 {
			fmt.Printf("  Newest: %s\n", st.Newest.Local().Format("2006-01-02 15:04"))
		}

		ok, failed, err := db.CountRunReports()
		if err != nil {
			return fmt.Errorf("counting run reports: %w", err)
		}
		fmt.Println("\nUnit runs:")
		fmt.Printf("  Succeeded: %d\n", ok)
		fmt.Printf("  Failed: %d\n", failed)
		return nil
	},
}

// --- generate command ---

var (
	genTopic  string
	genUnit   string
	genStrict bool
	genJSON   bool
	genAvoid  []string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one article",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(ctx, db)
		if err != nil {
			return err
		}
		defer store.Close()

		req := content.Request{Topic: genTopic, Unit: genUnit, AvoidTitles: genAvoid}
		if cmd.Flags().Changed("strict") {
			req.Strict = &genStrict
		}

		ctrl, _ := newController(store)
		art, err := ctrl.Generate(ctx, req)
		if err != nil {
			if genJSON {
				printJSON(generate.FailureOf(err))
			}
			return err
		}

		if genJSON {
			printJSON(art)
			return nil
		}
		fmt.Printf("%s\n\n", cyan(art.Title))
		fmt.Printf("%s\n\n", art.Excerpt)
		fmt.Println(art.Body)
		fmt.Printf("\n%s %d words, %d references, %s after %d invocation(s)\n",
			green("OK"), art.WordCount, art.EmbeddedReferenceCount, art.Provider, art.Attempts)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genTopic, "topic", "t", "", "Topic to write about")
	generateCmd.Flags().StringVarP(&genUnit, "unit", "u", "", "Content unit the article is for")
	generateCmd.Flags().BoolVar(&genStrict, "strict", false, "Fail instead of returning best-effort output")
	generateCmd.Flags().BoolVar(&genJSON, "json", false, "Print the result as JSON")
	generateCmd.Flags().StringSliceVar(&genAvoid, "avoid", nil, "Titles the article must not reuse")
	_ = generateCmd.MarkFlagRequired("topic")
}

// --- run command ---

var (
	dryRun     bool
	noResearch bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate every configured unit: research -> generate -> record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		units := cfg.OrchestratorUnits()
		if len(units) == 0 {
			return fmt.Errorf("no units configured")
		}

		var researcher orchestrator.Researcher
		if cfg.Research.Enabled && !noResearch {
			researcher = research.New(cfg.ResearchOptions())
		}

		if dryRun {
			orch := orchestrator.New(nil, researcher, nil, cfg.OrchestratorOptions())
			for _, p := range orch.DryRun(ctx, units) {
				topic := p.Topic
				if topic == "" {
					topic = yellow("(no topic: unit will fail)")
				}
				fmt.Printf("[dry-run] %-14s %s\n", p.Unit, topic)
				if len(p.Context) > 0 {
					fmt.Printf("          context: %s\n", strings.Join(p.Context, ", "))
				}
			}
			return nil
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(ctx, db)
		if err != nil {
			return err
		}
		defer store.Close()

		ctrl, _ := newController(store)
		orch := orchestrator.New(ctrl, researcher, db, cfg.OrchestratorOptions())
		result := orch.Run(ctx, units)

		outDir := filepath.Join(cfg.GetDataDir(), "artifacts")
		for _, u := range result.Units {
			if !u.OK() {
				kind := string(u.Kind)
				if kind == "" {
					kind = "Error"
				}
				fmt.Printf("%s %-14s %s: %v\n", red("FAIL"), u.Unit, kind, u.Err)
				continue
			}
			path, err := saveArtifact(outDir, result.RunID, u.Unit, u.Artifact)
			if err != nil {
				log.Printf("Saving artifact for %s failed: %v", u.Unit, err)
			}
			fmt.Printf("%s   %-14s %q (%d words, %s, %s)\n", green("OK"), u.Unit, u.Artifact.Title,
				u.Artifact.WordCount, u.Artifact.Provider, u.Duration.Round(time.Second))
			if path != "" {
				fmt.Printf("       saved to %s\n", path)
			}
		}

		fmt.Printf("\nRun %s complete: %d succeeded, %d failed\n", result.RunID[:8], result.Succeeded(), result.Failed())
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be generated without calling providers")
	runCmd.Flags().BoolVar(&noResearch, "no-research", false, "Skip feed research")
}

// saveArtifact writes the artifact as a markdown file with a small front
// matter block.
func saveArtifact(dir, runID, unit string, a *content.Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.md", time.Now().Format("2006-01-02"), runID[:8], unit)
	path := filepath.Join(dir, name)

	var sb strings.Builder
	fmt.Fprintf(&sb, "---\ntitle: %q\nexcerpt: %q\nunit: %s\nprovider: %s\nwords: %d\n---\n\n",
		a.Title, a.Excerpt, unit, a.Provider, a.WordCount)
	sb.WriteString(a.Body)
	sb.WriteString("\n")

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := openStore(ctx, db)
		if err != nil {
			return err
		}
		defer store.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctrl, inv := newController(store)
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.New(ctrl, store, inv, db).Serve(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath())
}

// openStore opens the fingerprint store on the configured backend.
func openStore(ctx context.Context, db *database.DB) (*history.Store, error) {
	var backend history.Backend
	switch cfg.History.Backend {
	case "json":
		fb, err := history.NewFileBackend(cfg.HistoryPath())
		if err != nil {
			return nil, err
		}
		backend = fb
	case "redis":
		rb, err := redisstore.New(cfg.History.RedisURL, cfg.History.Namespace)
		if err != nil {
			return nil, err
		}
		if err := rb.Ping(ctx); err != nil {
			rb.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		backend = rb
	default:
		backend = db.History()
	}
	return history.Open(ctx, backend, cfg.HistoryRules())
}

func newController(store *history.Store) (*generate.Controller, *cascade.Invoker) {
	inv := cascade.New(cfg.ProviderDescriptors(), nil)
	return generate.New(inv, store, cfg.GenerateOptions()), inv
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Error encoding JSON: %v", err)
	}
}
