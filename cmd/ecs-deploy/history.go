package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/ecs-deploy/internal/shell/deploy"
	"github.com/artpar/ecs-deploy/internal/shell/store"
)

// errNoJournal is returned by history when journal.dsn is not set.
var errNoJournal = errors.New("journal is not configured; set journal.dsn or ECS_DEPLOY_JOURNAL_DSN")

func newHistoryCmd(a *app) *cobra.Command {
	var (
		cluster string
		service string
		status  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded deploy and scale runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Journal.DSN == "" {
				return errNoJournal
			}
			journal, err := store.NewSQLiteJournal(a.cfg.Journal.DSN)
			if err != nil {
				return err
			}
			defer journal.Close()

			runs, err := journal.ListRuns(cmd.Context(), store.RunFilter{
				Cluster: cluster,
				Service: service,
				Status:  deploy.Status(status),
			}, store.ListOptions{Limit: limit})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.stdout, 12, 1, 3, ' ', 0)
			fmt.Fprintln(w, "STARTED\tCLUSTER\tSERVICE\tACTION\tSTATUS\tTASK DEFINITION\tDURATION\tUSER\tCOMMENT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime),
					r.Cluster,
					r.Service,
					r.Action,
					r.Status,
					runTarget(r),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
					r.User,
					r.Comment,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", "", "Only runs on this cluster")
	cmd.Flags().StringVar(&service, "service", "", "Only runs of this service")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (succeeded, failed, rolled_back)")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListOptions().Limit, "Maximum number of runs to list")
	return cmd
}

// runTarget describes what a run changed the service to.
func runTarget(r store.Run) string {
	if r.Action == deploy.ActionScale {
		return fmt.Sprintf("desired=%d", r.DesiredCount)
	}
	return r.FamilyRevision
}
