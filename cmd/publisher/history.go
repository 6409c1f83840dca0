package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/k8ika0s/fabric-env-publisher/internal/service"
	"github.com/k8ika0s/fabric-env-publisher/internal/store"
)

// openHistory opens the run history store; replaced in tests.
type openHistory func(cmd *cobra.Command, dsn string) (store.Store, func() error, error)

func openPostgres(cmd *cobra.Command, dsn string) (store.Store, func() error, error) {
	pg, err := store.OpenPostgres(cmd.Context(), dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func newHistoryCmd(v *viper.Viper, open openHistory) *cobra.Command {
	var (
		pkg   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent publish runs recorded in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn := v.GetString(service.KeyPostgresDSN)
			if dsn == "" {
				return &ExitError{Code: ExitFatal, Err: errors.New("POSTGRES_DSN is not set")}
			}
			hist, closeFn, err := open(cmd, dsn)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			defer closeFn()
			runs, err := hist.Recent(cmd.Context(), pkg, limit)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().StringVar(&pkg, "package", "", "only runs of this package")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func printRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tPACKAGE\tENVIRONMENT\tFILE\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Package, r.Workspace, r.Environment, r.Filename, r.Status)
	}
	return tw.Flush()
}
