package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/history"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/mongoconn"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/schemactx"
	"github.com/ZanzyTHEbar/dbagent/internal/app"
	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
)

type SchemaCmd struct {
	flags  *globalFlags
	output string
}

func NewSchemaCmd(flags *globalFlags) *SchemaCmd {
	return &SchemaCmd{flags: flags}
}

func (c *SchemaCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema context the planner sees",
		Args:  cobra.NoArgs,
		RunE: withConfig(c.flags, func(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd *cobra.Command, args []string) error {
			if cfg.SQL.URL == "" && cfg.NoSQL.URL == "" {
				return fmt.Errorf("neither SQL_DATABASE_URL nor NOSQL_DATABASE_URL is set")
			}
			stores, err := app.OpenStores(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			collector := schemactx.New(stores.SQLStore(), stores.DocumentStore(), schemactx.Options{
				MaxTokens: cfg.Context.MaxTokens,
				Counter:   llm.NewTokenCounter(cfg.LLM.Model, log),
			}, log)
			sc, err := collector.Collect(ctx)
			if err != nil {
				return err
			}
			if c.output == formatter.OutputJSON {
				return formatter.RenderJSON(cmd.OutOrStdout(), sc)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), collector.Render(sc))
			return err
		}),
	}
	cmd.Flags().StringVarP(&c.output, "output", "o", formatter.OutputText, "output format: text, json")
	return cmd
}

type SeedCmd struct {
	flags *globalFlags
	drop  bool
	roles int
	users int
	logs  int
}

func NewSeedCmd(flags *globalFlags) *SeedCmd {
	return &SeedCmd{flags: flags}
}

func (c *SeedCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo data into the configured databases",
	}

	sqlCmd := &cobra.Command{
		Use:   "sql",
		Short: "Create and fill the sales demo schema (customers, products, sales)",
		Args:  cobra.NoArgs,
		RunE: withConfig(c.flags, func(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd *cobra.Command, args []string) error {
			if cfg.SQL.URL == "" {
				return fmt.Errorf("SQL_DATABASE_URL is not set")
			}
			cfg.NoSQL.URL = ""
			stores, err := app.OpenStores(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			n, err := stores.SQL.SeedDemo(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Demo schema already applied.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d demo migrations to %s.\n", n, stores.SQL.Dialect())
			return nil
		}),
	}

	nosqlCmd := &cobra.Command{
		Use:   "nosql",
		Short: "Generate demo roles, users and activity logs in MongoDB",
		Args:  cobra.NoArgs,
		RunE: withConfig(c.flags, func(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd *cobra.Command, args []string) error {
			if cfg.NoSQL.URL == "" {
				return fmt.Errorf("NOSQL_DATABASE_URL is not set")
			}
			if cfg.NoSQL.Database == "" {
				cfg.NoSQL.Database = "demo"
			}
			cfg.SQL.URL = ""
			stores, err := app.OpenStores(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			report, err := stores.NoSQL.SeedDemo(ctx, mongoconn.SeedOptions{
				Drop:  c.drop,
				Roles: c.roles,
				Users: c.users,
				Logs:  c.logs,
				Now:   time.Now,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d roles, %d users, %d activity logs", report.Database, report.Roles, report.Users, report.Logs)
			if report.Dropped {
				fmt.Fprint(cmd.OutOrStdout(), " (existing collections dropped)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		}),
	}
	nosqlCmd.Flags().BoolVar(&c.drop, "drop", false, "drop the demo collections first (also enabled by ALLOW_DROP_COLLECTIONS=true)")
	nosqlCmd.Flags().IntVar(&c.roles, "roles", 7, "number of roles")
	nosqlCmd.Flags().IntVar(&c.users, "users", 100, "number of users")
	nosqlCmd.Flags().IntVar(&c.logs, "logs", 500, "number of activity log entries")

	cmd.AddCommand(sqlCmd, nosqlCmd)
	return cmd
}

type HistoryCmd struct {
	flags  *globalFlags
	limit  int
	output string
}

func NewHistoryCmd(flags *globalFlags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

func (c *HistoryCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: withConfig(c.flags, func(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd *cobra.Command, args []string) error {
			if !cfg.History.Enabled {
				return fmt.Errorf("run history is disabled (history.enabled=false)")
			}
			store, err := history.Open(ctx, cfg.History.Path, log)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				resp, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return formatter.Render(cmd.OutOrStdout(), c.output, resp, cfg.Formatter.MaxRows)
			}

			runs, err := store.List(ctx, c.limit)
			if err != nil {
				return err
			}
			if c.output == formatter.OutputJSON {
				return formatter.RenderJSON(cmd.OutOrStdout(), runs)
			}
			return formatter.RenderRuns(cmd.OutOrStdout(), runs)
		}),
	}
	cmd.Flags().IntVarP(&c.limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVarP(&c.output, "output", "o", formatter.OutputText, "output format: text, json, table")
	return cmd
}
