package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"duckframe/pkg/duckframe"
)

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query SQL",
		Short: "Run a read-only query and print the result",
		Long:  "Run a single read-only statement. Use - to read the statement from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := statementArg(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			dc, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer dc.Close() //nolint:errcheck

			df, err := dc.SQL(ctx, query)
			if err != nil {
				return err
			}
			batches, err := df.Collect(ctx)
			if err != nil {
				return err
			}
			defer batches.Release()
			cols, err := duckframe.Decode(batches)
			if err != nil {
				return err
			}
			names := make([]string, batches.Schema.NumFields())
			for i, f := range batches.Schema.Fields() {
				names[i] = f.Name
			}
			return printColumns(cmd.OutOrStdout(), getOutputFormat(cmd), names, cols)
		},
	}
}

func newExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec SQL",
		Short: "Run SQL without statement restrictions",
		Long:  "Run any SQL, including DDL, DML and multiple statements. Use --db to keep the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmt, err := statementArg(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			dc, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer dc.Close() //nolint:errcheck

			if err := dc.CreateTable(ctx, stmt); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

// statementArg returns arg, or stdin when arg is "-".
func statementArg(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	stmt := strings.TrimSpace(string(data))
	if stmt == "" {
		return "", fmt.Errorf("no SQL on stdin")
	}
	return stmt, nil
}
