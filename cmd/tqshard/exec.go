package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/executor"
	"github.com/mevdschee/tqshard/proxy"
	"github.com/mevdschee/tqshard/statement"
)

const nullValue = "NULL"

func newExecCommand() *cobra.Command {
	var (
		units []string
		tx    bool
	)
	cmd := &cobra.Command{
		Use:   "exec --unit ds:SQL [--unit ds:SQL ...]",
		Short: "Execute statements on data sources through one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer zap.L().Sync()
			parsed, err := parseUnits(units)
			if err != nil {
				return err
			}

			ctx := context.Background()
			backend, err := proxy.FromConfig(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer backend.Close()
			return run(ctx, backend, parsed, tx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringArrayVarP(&units, "unit", "u", nil, "Execution unit as data_source:SQL")
	cmd.Flags().BoolVar(&tx, "tx", false, "Run the units in one transaction")
	return cmd
}

func parseUnits(specs []string) ([]executor.ExecutionUnit, error) {
	if len(specs) == 0 {
		return nil, errors.New("no units given")
	}
	units := make([]executor.ExecutionUnit, 0, len(specs))
	for _, spec := range specs {
		ds, query, ok := strings.Cut(spec, ":")
		if !ok || ds == "" || strings.TrimSpace(query) == "" {
			return nil, errors.Errorf("invalid unit %q, want data_source:SQL", spec)
		}
		units = append(units, executor.NewExecutionUnit(ds, strings.TrimSpace(query)))
	}
	return units, nil
}

func run(ctx context.Context, backend *proxy.Backend, units []executor.ExecutionUnit, tx bool, out io.Writer) error {
	session := backend.NewSession()
	defer session.Close()

	if tx {
		if err := session.Begin(ctx); err != nil {
			return err
		}
	}
	results, err := session.Execute(ctx, &executor.RouteContext{}, units)
	if err != nil {
		if tx {
			if rerr := session.Rollback(ctx); rerr != nil {
				zap.L().Warn("rollback", zap.Error(rerr))
			}
		}
		return err
	}
	if tx {
		if err := session.Commit(ctx); err != nil {
			return err
		}
	}
	for _, r := range results {
		writeResult(out, r)
	}
	return nil
}

func writeResult(out io.Writer, r *statement.Result) {
	fmt.Fprintf(out, "%s> %s\n", r.DataSourceName, r.SQL)
	if !r.IsQuery() {
		fmt.Fprintf(out, "%d rows affected", r.RowsAffected)
		if r.HasLastInsertID {
			fmt.Fprintf(out, ", last insert id %d", r.LastInsertID)
		}
		fmt.Fprint(out, "\n\n")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(r.Columns))
	for i, c := range r.Columns {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, row := range r.Rows {
		for i := range row {
			if row[i] == nil {
				row[i] = nullValue
			}
		}
		t.AppendRow(table.Row(row))
	}
	t.Render()
	fmt.Fprintln(out)
}

