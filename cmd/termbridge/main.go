package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/swasthyasetu/termbridge/internal/config"
	"github.com/swasthyasetu/termbridge/internal/domain/curation"
	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/db"
	"github.com/swasthyasetu/termbridge/internal/platform/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "termbridge",
		Short:        "NAMASTE / ICD-11 terminology service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := logging.Setup(cfg.Env, cfg.LogFormat)
			count, err := db.NewMigrator(pool, db.Migrations(), logger).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := logging.Setup(cfg.Env, cfg.LogFormat)
			statuses, err := db.NewMigrator(pool, db.Migrations(), logger).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the code catalogs",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Publish a catalog version from an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			systemName, _ := cmd.Flags().GetString("system")
			version, _ := cmd.Flags().GetString("version")
			sheet, _ := cmd.Flags().GetString("sheet")
			if file == "" || version == "" {
				return fmt.Errorf("--file and --version are required")
			}
			system, err := terminology.ParseSystem(systemName)
			if err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := terminology.ReadWorkbook(f, system, version, sheet)
			if err != nil {
				return err
			}

			return withStorage(cmd.Context(), func(st *storage) error {
				svc := terminology.NewService(st.codes, st.cache, st.publisher, st.log)
				if err := svc.Publish(cmd.Context(), entries, "cli"); err != nil {
					return err
				}
				fmt.Printf("Published %d %s code(s) as version %s.\n", len(entries), system, version)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "Path to the .xlsx workbook")
	importCmd.Flags().String("system", "NAMASTE", "Code system (NAMASTE or ICD11)")
	importCmd.Flags().String("version", "", "Catalog version to publish")
	importCmd.Flags().String("sheet", "", "Sheet name (defaults to the first sheet)")
	cmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the latest catalog of a system to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			systemName, _ := cmd.Flags().GetString("system")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			system, err := terminology.ParseSystem(systemName)
			if err != nil {
				return err
			}

			return withStorage(cmd.Context(), func(st *storage) error {
				entries, err := st.codes.ListCodes(cmd.Context(), system)
				if err != nil {
					return err
				}
				data, err := terminology.ExportWorkbook(system, entries)
				if err != nil {
					return err
				}
				if err := os.WriteFile(file, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Exported %d %s code(s) to %s.\n", len(entries), system, file)
				return nil
			})
		},
	}
	exportCmd.Flags().String("file", "", "Output .xlsx path")
	exportCmd.Flags().String("system", "NAMASTE", "Code system (NAMASTE or ICD11)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalogs, mapping table and contributions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), func(st *storage) error {
				seeded, n, err := seedDemo(cmd.Context(), st)
				if err != nil {
					return err
				}
				if !seeded && n == 0 {
					fmt.Println("Demo data already present.")
					return nil
				}
				fmt.Printf("Demo catalog loaded (%d contribution(s)).\n", n)
				return nil
			})
		},
	})

	return cmd
}

// withStorage opens the configured backend for a one-shot command.
func withStorage(ctx context.Context, fn func(*storage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("catalog commands need STORAGE=%s (the memory store does not outlive the command)", config.StoragePostgres)
	}
	logger := logging.Setup(cfg.Env, cfg.LogFormat)
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close(ctx)
	return fn(st)
}

// seedDemo loads the demo catalog through the terminology service, so the
// search cache and event stream see it, then the demo contributions.
func seedDemo(ctx context.Context, st *storage) (bool, int, error) {
	svc := terminology.NewService(st.codes, st.cache, st.publisher, st.log)
	seeded, err := svc.SeedDemo(ctx, "seed")
	if err != nil {
		return false, 0, fmt.Errorf("seed catalog: %w", err)
	}
	n, err := curation.SeedContributions(ctx, st.contributions)
	if err != nil {
		return seeded, 0, fmt.Errorf("seed contributions: %w", err)
	}
	return seeded, n, nil
}
