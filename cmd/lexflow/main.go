package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anferov/lexflow/internal/calendar"
	"github.com/anferov/lexflow/internal/logging"
	"github.com/anferov/lexflow/internal/rules"
	"github.com/anferov/lexflow/internal/scheduler"
	"github.com/anferov/lexflow/internal/store"
	"github.com/anferov/lexflow/pkg/schema"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lexflow",
		Short:        "Case-lifecycle automation core for a legal practice CRM",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newRemindCmd())
	rootCmd.AddCommand(newDispatchCmd())
	rootCmd.AddCommand(newSlotsCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", slog.String("db", cfg.DBPath))
			return nil
		},
	}
}

func newRemindCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run the reminder sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			sweeper, err := scheduler.NewReminderSweeper(s, scheduler.Config{
				Schedule:    cfg.SweepSchedule,
				TaskLead:    cfg.TaskLead,
				HearingLead: cfg.HearingLead,
			}, logger, nil)
			if err != nil {
				return err
			}

			if once {
				created, err := sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d notifications\n", created)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sweeper.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			sweeper.Stop()
			logger.Info("reminder sweeper stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <event.json>",
		Short: "Dispatch a lifecycle event through the registered rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			dispatcher, err := buildDispatcher(cfg, s, logger)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read event file: %w", err)
			}
			var event schema.LifecycleEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				return fmt.Errorf("parse event: %w", err)
			}
			if event.OccurredAt.IsZero() {
				event.OccurredAt = time.Now().UTC()
			}

			result, err := dispatcher.Dispatch(cmd.Context(), &event)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newSlotsCmd() *cobra.Command {
	var (
		subject  string
		day      string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a subject's free slots for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			date, err := time.ParseInLocation("2006-01-02", day, time.Local)
			if err != nil {
				return fmt.Errorf("parse date %q: %w", day, err)
			}

			engine := calendar.NewEngine(s, calendar.WorkingHours{
				StartHour: cfg.WorkStartHour,
				EndHour:   cfg.WorkEndHour,
			}, logger)

			slots, err := engine.DaySlots(cmd.Context(), subject, date, duration)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no free slots")
				return nil
			}
			for _, slot := range slots {
				fmt.Fprintln(cmd.OutOrStdout(), slot.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject (user) ID")
	cmd.Flags().StringVar(&day, "date", time.Now().Format("2006-01-02"), "day to query (YYYY-MM-DD)")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "slot duration")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lexflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// setup loads configuration and builds the correlated logger.
func setup() (Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return cfg, nil, fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(logging.NewCorrelationHandler(handler))
	return cfg, logger, nil
}

func openStore(cfg Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.NewLibSQLStore("file:" + cfg.DBPath)
}

// buildDispatcher wires the registry with built-in and declarative rules,
// freezes it, and returns a dispatching frontend over the store.
func buildDispatcher(cfg Config, s *store.LibSQLStore, logger *slog.Logger) (*rules.Dispatcher, error) {
	registry := rules.NewRegistry()
	if err := rules.RegisterBuiltins(registry, &storeCaseFetcher{store: s}, nil); err != nil {
		return nil, err
	}

	if cfg.RulesPath != "" {
		raw, err := os.ReadFile(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
		validator, err := rules.NewSpecValidator()
		if err != nil {
			return nil, err
		}
		specs, err := validator.LoadSpecs(raw)
		if err != nil {
			return nil, err
		}
		engines, err := rules.NewSpecEngines(nil)
		if err != nil {
			return nil, err
		}
		if err := rules.RegisterSpecs(registry, specs, engines); err != nil {
			return nil, err
		}
		logger.Info("declarative rules registered",
			slog.Int("count", len(specs)),
			slog.String("path", cfg.RulesPath),
		)
	}

	registry.Freeze()
	return rules.NewDispatcher(registry, s, s, logger), nil
}

// storeCaseFetcher adapts the store to the hearing-preparation rule's
// case-lookup dependency.
type storeCaseFetcher struct {
	store *store.LibSQLStore
}

func (f *storeCaseFetcher) GetCaseSnapshot(ctx context.Context, id string) (*schema.CaseSnapshot, error) {
	c, err := f.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	return &schema.CaseSnapshot{
		Title:        c.Title,
		Status:       c.Status,
		Stage:        c.Stage,
		DecisionDate: c.DecisionDate,
		LawyerID:     c.LawyerID,
		ClientID:     c.ClientID,
	}, nil
}
