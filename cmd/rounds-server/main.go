package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ehr/rounds/internal/config"
	"github.com/ehr/rounds/internal/domain/rounds"
	"github.com/ehr/rounds/internal/export"
	"github.com/ehr/rounds/internal/platform/db"
	"github.com/ehr/rounds/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rounds-server",
		Short: "Ward-round diff reconciliation service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(patientsCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ward-round API server",
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
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run postgres migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres {
				fmt.Println("SQLite store creates its schema on open; nothing to migrate.")
				return nil
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
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
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres {
				fmt.Println("SQLite store creates its schema on open; nothing to migrate.")
				return nil
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Inspect and manage the ward list",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients on the ward list",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc := rounds.NewService(st.repo, rounds.NewSessionManager())
			patients, total, err := svc.ListPatients(ctx, status, limit, 0)
			if err != nil {
				return err
			}
			printPatients(os.Stdout, patients)
			fmt.Printf("\n%d of %d patient(s)\n", len(patients), total)
			return nil
		},
	}
	listCmd.Flags().String("status", rounds.PatientActive, "Filter by status (active, discharged, or empty for all)")
	listCmd.Flags().Int("limit", 100, "Maximum number of patients to show")
	cmd.AddCommand(listCmd)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Quick-add a patient to the ward list",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			scratchpad, _ := cmd.Flags().GetString("scratchpad")
			ward, _ := cmd.Flags().GetString("ward")
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc := rounds.NewService(st.repo, rounds.NewSessionManager(), rounds.WithDefaultWard(cfg.DefaultWard))
			p, err := svc.QuickAddPatient(ctx, name, scratchpad, ward)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s (%s) to %s\n", p.Name, p.ID, p.Site)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "Patient name")
	addCmd.Flags().String("scratchpad", "", "Free-text intake note")
	addCmd.Flags().String("ward", "", "Ward (defaults to DEFAULT_WARD)")
	cmd.AddCommand(addCmd)

	return cmd
}

func printPatients(w io.Writer, patients []*rounds.Patient) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BED\tNAME\tSTATUS\tISSUES\tTASKS\tUPDATED")
	active := color.New(color.FgGreen)
	discharged := color.New(color.Faint)
	for _, p := range patients {
		status := active.Sprint(p.Status)
		if p.Status == rounds.PatientDischarged {
			status = discharged.Sprint(p.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			valueOr(p.Bed, "-"), p.Name, status,
			len(p.OpenIssues()), len(p.OpenTasks()),
			p.LastUpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ward documents",
	}

	handoverCmd := &cobra.Command{
		Use:   "handover",
		Short: "Write an XLSX handover sheet of active patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			patients, _, err := st.repo.List(ctx, rounds.PatientActive, 1000, 0)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := export.WriteHandover(f, patients, time.Now()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			color.Green("Wrote handover for %d patient(s) to %s", len(patients), out)
			return nil
		},
	}
	handoverCmd.Flags().String("out", "handover.xlsx", "Output file")
	cmd.AddCommand(handoverCmd)

	return cmd
}
