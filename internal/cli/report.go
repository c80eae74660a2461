package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
	"github.com/relaydev/relay/internal/stages"
)

var reportConfigPath string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Regenerate the markdown report for the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := os.Getwd()
		if err != nil {
			return err
		}

		cfg, err := loadConfig(reportConfigPath)
		if err != nil {
			return err
		}

		rc, err := pipeline.LoadSnapshot(ws)
		if err != nil {
			return &pipeline.ConfigurationError{Msg: "no pipeline run recorded in this workspace"}
		}

		var ev *events.DB
		if dbPath, err := events.DefaultPath(ws); err == nil {
			if _, err := os.Stat(dbPath); err == nil {
				if db, err := events.Open(dbPath); err == nil {
					defer db.Close()
					ev = db
				}
			}
		}

		stage := &stages.Report{
			RC:     rc,
			Cfg:    cfg,
			Log:    logging.Discard(),
			Cache:  pipeline.NewStore(ws),
			Events: ev,
		}
		data, err := stage.Execute(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %v\n", data["report_path"])
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportConfigPath, "config", "c", "relay.yaml", "path to the relay config file")
}
