// Command crisissim runs the integrated crisis simulation: a real-time loop
// with an HTTP bridge and sqlite autosave, and the scripted crisis scenarios.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/talgya/crisis-world/internal/api"
	"github.com/talgya/crisis-world/internal/config"
	"github.com/talgya/crisis-world/internal/display"
	"github.com/talgya/crisis-world/internal/engine"
	"github.com/talgya/crisis-world/internal/logging"
	"github.com/talgya/crisis-world/internal/persistence"
	"github.com/talgya/crisis-world/internal/scenario"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "crisissim",
		Short: "Integrated financial crisis simulation",
		Long: `crisissim simulates interacting financial crises: bank runs, asset
bubbles, supply shocks, currency, debt and economic-war crises, together with
government interventions and an early-warning indicator system.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine.
			_ = godotenv.Load()
		},
	}

	rootCmd.SilenceUsage = true

	// Global flags
	rootCmd.PersistentFlags().String("config", "crisissim.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (info, debug, trace)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newScenarioCmd(),
		newShowCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crisissim version %s\n", version)
		},
	}
}

// loadConfig reads the config named by --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if f := cmd.Flags().Lookup("seed"); f != nil && f.Changed {
		cfg.Simulation.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	if f := cmd.Flags().Lookup("agents"); f != nil && f.Changed {
		cfg.Simulation.Agents, _ = cmd.Flags().GetInt("agents")
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		cfg.API.Port, _ = cmd.Flags().GetInt("port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// journalSink appends every event to the debug journal.
type journalSink struct{ j *logging.Journal }

func (s journalSink) OnEvent(e engine.Event)     { s.j.Log(e) }
func (s journalSink) OnSnapshot(engine.Snapshot) {}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation in real time with the HTTP bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ticks, _ := cmd.Flags().GetInt("ticks")
			noAPI, _ := cmd.Flags().GetBool("no-api")

			logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)
			slog.SetDefault(logger)
			journal := logging.NewJournal(cfg.Logging.JournalDir, cfg.Logging.Level)
			defer journal.Close()

			opts := cfg.Options()
			opts.Logger = logger
			sim, err := engine.New(opts)
			if err != nil {
				return fmt.Errorf("creating simulation: %w", err)
			}
			if journal != nil {
				sim.Subscribe(engine.AllEvents, journalSink{journal})
			}

			// ── Database ──────────────────────────────────────────────
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}
			db, err := persistence.Open(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			slog.Info("database opened", "path", cfg.Storage.DBPath)

			cfgYAML, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			// ── Engine ────────────────────────────────────────────────
			eng := engine.NewEngine(sim)
			eng.Interval = cfg.Simulation.TickInterval
			eng.SaveEvery = uint64(cfg.Storage.AutosaveEvery)
			if err := eng.SetSpeed(float64(cfg.Simulation.Speed)); err != nil {
				return err
			}
			save := func() {
				eng.Do(func(sim *engine.Simulation) {
					if err := db.SaveState(sim, cfgYAML); err != nil {
						slog.Error("save failed", "error", err)
					}
				})
			}
			eng.OnSave = func(engine.Snapshot) { save() }
			level := sim.Snapshot().RiskLevel
			eng.OnTick = func(snap engine.Snapshot) {
				if snap.RiskLevel != level {
					slog.Info("risk level changed", "tick", snap.Tick, "from", level, "to", snap.RiskLevel,
						"composite", fmt.Sprintf("%.3f", snap.CompositeRisk))
					level = snap.RiskLevel
				}
			}

			save()

			if ticks > 0 {
				// Headless: tick as fast as possible, then report.
				var snap engine.Snapshot
				for i := 0; i < ticks; i++ {
					var stopped bool
					if snap, stopped = eng.Step(); stopped {
						break
					}
					if eng.SaveEvery > 0 && snap.Tick%eng.SaveEvery == 0 {
						save()
					}
				}
				save()
				fmt.Println(display.Snapshot(snap))
				var st engine.Status
				eng.Do(func(sim *engine.Simulation) { st = sim.Status() })
				fmt.Println(display.Status(st))
				return nil
			}

			// ── HTTP API ──────────────────────────────────────────────
			var server *api.Server
			if !noAPI {
				if cfg.API.AdminKey == "" {
					slog.Warn("CRISISSIM_ADMIN_KEY not set; admin POST endpoints will be disabled")
				}
				server = &api.Server{
					Eng:       eng,
					DB:        db,
					Config:    cfgYAML,
					Port:      cfg.API.Port,
					AdminKey:  cfg.API.AdminKey,
					RelayKey:  cfg.API.RelayKey,
					AdminRate: cfg.API.AdminRate,
				}
				server.Start()
				fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Simulating %d agents with seed %d (Ctrl+C to stop)\n", cfg.Simulation.Agents, cfg.Simulation.Seed)
			if err := eng.Run(ctx); err != nil {
				return err
			}

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Warn("HTTP shutdown", "error", err)
				}
			}

			slog.Info("final save...")
			save()
			fmt.Println("Simulation stopped. State saved.")
			return nil
		},
	}

	cmd.Flags().Int64("seed", 0, "Random seed (overrides config)")
	cmd.Flags().Int("agents", 0, "Number of agents (overrides config)")
	cmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	cmd.Flags().Int("ticks", 0, "Run this many ticks headless and exit (0 = real time)")
	cmd.Flags().Bool("no-api", false, "Do not start the HTTP bridge")

	return cmd
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "scenario [name...]",
		Short:     "Run scripted crisis scenarios",
		Long:      "Run scripted crisis scenarios and report their checks. With no names, every scenario runs.",
		ValidArgs: scenario.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetInt64("seed")
			jsonOut, _ := cmd.Flags().GetBool("json")
			level, _ := cmd.Flags().GetString("log-level")

			names := args
			if len(names) == 0 {
				names = scenario.Names()
			}
			opts := scenario.Options{Seed: seed}
			if level != "" {
				opts.Logger = logging.NewLogger(level, os.Stderr)
			}

			failed := 0
			for _, name := range names {
				res, err := scenario.Run(name, opts)
				if err != nil {
					return err
				}
				if !res.Passed() {
					failed++
				}
				if jsonOut {
					// The event log is large; report checks only.
					res.Events = nil
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					if err := enc.Encode(res); err != nil {
						return err
					}
					continue
				}
				fmt.Println(display.Scenario(res))
				fmt.Println()
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(names))
			}
			return nil
		},
	}
	cmd.Flags().Int64("seed", scenario.DefaultSeed, "Random seed")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Render a stored snapshot from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := persistence.Open(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			var snap engine.Snapshot
			if f := cmd.Flags().Lookup("tick"); f.Changed {
				tick, _ := cmd.Flags().GetUint64("tick")
				snap, err = db.LoadSnapshot(tick)
			} else {
				snap, err = db.LatestSnapshot()
			}
			if errors.Is(err, persistence.ErrNoSnapshot) {
				return fmt.Errorf("no snapshot in %s", cfg.Storage.DBPath)
			}
			if err != nil {
				return err
			}
			fmt.Println(display.Snapshot(snap))

			n, _ := cmd.Flags().GetInt("events")
			if n > 0 {
				events, err := db.RecentEvents(n)
				if err != nil {
					return err
				}
				fmt.Println(display.Events(events, n))
			}
			return nil
		},
	}
	cmd.Flags().Uint64("tick", 0, "Tick to show (default latest)")
	cmd.Flags().Int("events", 10, "Number of recent events to list")
	return cmd
}
