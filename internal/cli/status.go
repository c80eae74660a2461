package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last pipeline run in this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := os.Getwd()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		rc, err := pipeline.LoadSnapshot(ws)
		if err != nil {
			fmt.Fprintln(w, "no pipeline run recorded in this workspace")
			return nil
		}

		fmt.Fprintf(w, "pipeline %s (%s on %s)\n", rc.ShortID(), rc.ProjectName, rc.Branch)
		fmt.Fprintf(w, "started %s\n\n", rc.StartedAt.Format("2006-01-02 15:04:05"))

		cache := pipeline.NewStore(ws)
		fmt.Fprintf(w, "%-10s %-10s %s\n", "STAGE", "STATUS", "BRANCH")
		for _, name := range pipeline.StageOrder {
			status := string(rc.StageStatus(name))
			if out, err := cache.Read(name); err == nil {
				status = out.Status
			}
			branch, _ := rc.StageBranch(name)
			fmt.Fprintf(w, "%-10s %-10s %s\n", name, status, branch)
		}

		if rc.ErrorLog != "" {
			fmt.Fprintf(w, "\nerror details: %s\n", rc.ErrorLog)
		}

		dbPath, err := events.DefaultPath(ws)
		if err != nil {
			return nil
		}
		if _, err := os.Stat(dbPath); err != nil {
			return nil
		}
		ev, err := events.Open(dbPath)
		if err != nil {
			return nil
		}
		defer ev.Close()
		attempts, err := ev.PushAttempts(rc.PipelineID)
		if err == nil && len(attempts) > 0 {
			fmt.Fprintf(w, "\npush attempts:\n")
			for _, a := range attempts {
				status := "failed"
				if a.Succeeded {
					status = "ok"
				}
				fmt.Fprintf(w, "  %d. %s -> %s (%s)\n", a.Attempt, a.Refspec, a.Remote, status)
			}
		}
		return nil
	},
}
