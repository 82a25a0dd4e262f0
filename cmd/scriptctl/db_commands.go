package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/snarg/scriptsync/internal/database"
)

func newDBCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the job database",
	}
	cmd.AddCommand(newDBStatsCommand(ctx))
	cmd.AddCommand(newDBQueryCommand(ctx))
	cmd.AddCommand(newDBPurgeCommand(ctx))
	return cmd
}

func (c *commandContext) withDB(cmd *cobra.Command, fn func(context.Context, *database.DB) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required (or pass --database-url)")
	}
	log := c.logger(cmd.ErrOrStderr())
	db, err := database.Connect(cmd.Context(), cfg.DatabaseURL, 2, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	return fn(cmd.Context(), db)
}

func newDBStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts and averages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd, func(c context.Context, db *database.DB) error {
				st, err := db.JobStats(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statsTable(st))
				return nil
			})
		},
	}
}

func statsTable(st *database.JobStats) string {
	rows := make([][]string, 0, len(database.AllStatuses)+3)
	for _, s := range database.AllStatuses {
		rows = append(rows, []string{string(s), strconv.Itoa(st.Counts[s])})
	}
	rows = append(rows,
		[]string{"avg run time", seconds(st.AvgRunSeconds) + "s"},
		[]string{"avg match ratio", fmt.Sprintf("%.1f%%", st.AvgMatchRatio*100)},
		[]string{"audio aligned", (time.Duration(st.TotalAudioSeconds) * time.Second).String()},
	)
	return renderTable([]string{"Jobs", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func newDBQueryCommand(ctx *commandContext) *cobra.Command {
	var (
		maxRows int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd, func(c context.Context, db *database.DB) error {
				res, err := db.ExecuteReadOnlyQuery(c, args[0], nil, maxRows)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				fmt.Fprintln(cmd.OutOrStdout(), queryTable(res))
				if res.Truncated {
					fmt.Fprintf(cmd.ErrOrStderr(), "(%d rows, truncated; raise --max-rows)\n", res.RowCount)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "(%d rows)\n", res.RowCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxRows, "max-rows", 100, "Maximum rows to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func queryTable(res *database.QueryResult) string {
	rows := make([][]string, len(res.Rows))
	for i, r := range res.Rows {
		row := make([]string, len(r))
		for j, v := range r {
			if v == nil {
				row[j] = "NULL"
				continue
			}
			row[j] = fmt.Sprint(v)
		}
		rows[i] = row
	}
	return renderTable(res.Columns, rows, nil)
}

func newDBPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd, func(c context.Context, db *database.DB) error {
				n, err := db.PurgeFinishedJobs(c, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d jobs finished more than %s ago\n", n, olderThan)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Retention for finished jobs")
	return cmd
}
