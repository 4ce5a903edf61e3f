package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shaurya/behave/db"
	"github.com/shaurya/behave/framework"
	"github.com/shaurya/behave/loggable"
	"github.com/shaurya/behave/translatable"
)

const version = "1.0.0"

var (
	env    string
	output string
)

var rootCmd = &cobra.Command{
	Use:   "behave",
	Short: "behave manages the tables and history kept by the GORM behavior listeners",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if env != "" {
			os.Setenv("APP_ENV", env)
		}
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (development, production, test)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, yaml)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(translationsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func boot(ctx context.Context) (*framework.App, error) {
	app, err := framework.New()
	if err != nil {
		return nil, err
	}
	if err := app.Boot(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// --- Migrations ---

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the translation and log entry tables",
	}

	connect := func() (*framework.App, string, error) {
		cfg, err := framework.LoadConfig()
		if err != nil {
			return nil, "", err
		}
		app := framework.NewWithConfig(cfg)
		gdb, err := db.Connect(cfg.Database)
		if err != nil {
			return nil, "", err
		}
		app.DB = gdb
		return app, db.Dialect(cfg.Database), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, dialect, err := connect()
			if err != nil {
				return err
			}
			if err := db.Migrate(app.DB, dialect); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, dialect, err := connect()
			if err != nil {
				return err
			}
			if err := db.Rollback(app.DB, dialect, steps); err != nil {
				return err
			}
			fmt.Printf("rolled back %d migration(s)\n", max(steps, 1))
			return nil
		},
	}
	down.Flags().IntVarP(&steps, "steps", "s", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, dialect, err := connect()
			if err != nil {
				return err
			}
			return db.MigrationStatus(app.DB, dialect)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, dialect, err := connect()
			if err != nil {
				return err
			}
			v, err := db.Version(app.DB, dialect)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	})
	return cmd
}

// --- History ---

func logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <class> <id>",
		Short: "Print the change history of an object, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := boot(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			var store loggable.Store = loggable.NewGormStore(app.DB, "")
			if app.Extensions.Loggable != nil {
				store = app.Extensions.Loggable.Store()
			}
			entries, err := store.Entries(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if output == "yaml" {
				return yaml.NewEncoder(os.Stdout).Encode(entries)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tACTION\tLOGGED AT\tUSER\tDATA")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Version, e.Action,
					e.LoggedAt.Format(time.RFC3339), e.Username, formatData(e.Data))
			}
			return w.Flush()
		},
	}
}

func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += k + "=" + strconv.Quote(fmt.Sprint(data[k]))
	}
	return out
}

// --- Translations ---

func translationsCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "translations <class> <id>",
		Short: "Print the stored translations of an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := boot(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			l := app.Extensions.Translatable
			if l == nil {
				l = translatable.New()
			}
			if table == "" {
				table = translatable.DefaultTable
			}
			byLocale, err := translatable.NewRepository(app.DB, l).ByClass(ctx, table, args[0], args[1])
			if err != nil {
				return err
			}
			if output == "yaml" {
				return yaml.NewEncoder(os.Stdout).Encode(byLocale)
			}
			locales := make([]string, 0, len(byLocale))
			for locale := range byLocale {
				locales = append(locales, locale)
			}
			sort.Strings(locales)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOCALE\tFIELD\tCONTENT")
			for _, locale := range locales {
				fields := make([]string, 0, len(byLocale[locale]))
				for f := range byLocale[locale] {
					fields = append(fields, f)
				}
				sort.Strings(fields)
				for _, f := range fields {
					fmt.Fprintf(w, "%s\t%s\t%s\n", locale, f, byLocale[locale][f])
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&table, "table", "t", "", "Translation table (default "+translatable.DefaultTable+")")
	return cmd
}

// --- Introspection ---

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the database, Mongo and cache connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := boot(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			report := app.Health(cmd.Context())
			if output == "yaml" {
				return yaml.NewEncoder(os.Stdout).Encode(report)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, c := range report.Checks {
				fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Status)
			}
			fmt.Fprintf(w, "migration version\t%d\n", report.MigrationVersion)
			if err := w.Flush(); err != nil {
				return err
			}
			if !report.Ready {
				return fmt.Errorf("not ready")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the behave version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("behave v%s\n", version)
		},
	}
}
