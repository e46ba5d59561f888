package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type sessionRow struct {
	Key     string `json:"key"`
	State   string `json:"state"`
	Viewers int    `json:"viewers"`
	Chunks  int    `json:"buffered_chunks"`
}

func newSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect live terminal sessions",
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List live terminal sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listSessions,
	}

	sessionsCmd.AddCommand(listCmd)
	return sessionsCmd
}

func listSessions(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	var sessions []sessionRow
	if err := client.get("/api/sessions", &sessions); err != nil {
		return err
	}

	newOutputFormatter(cmd).Print(sessions, func() {
		if len(sessions) == 0 {
			fmt.Println("No active sessions")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSTATE\tVIEWERS\tBUFFERED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Key, s.State, s.Viewers, s.Chunks)
		}
		w.Flush()
	})
	return nil
}
