package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaydev/relay/internal/command"
	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/events"
	"github.com/relaydev/relay/internal/git"
	"github.com/relaydev/relay/internal/orchestrator"
	"github.com/relaydev/relay/internal/pipeline"
)

const latestCommitCount = 5

var (
	runConfigPath string
	runMessage    string
	runYes        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the validation pipeline for the current workspace",
	Long: `Run drives the workspace through the full pipeline. With -m the
working tree is committed first; otherwise the run covers the commits
already on the branch. An interrupt (Ctrl-C) rolls the checkpoint hub back
the same way a stage failure does.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := os.Getwd()
		if err != nil {
			return err
		}

		cfg, err := loadConfig(runConfigPath)
		if err != nil {
			return err
		}

		runner := &git.ExecGit{}
		workspace := git.NewRepo(runner, ws)
		if !git.IsRepo(runner, ws) {
			return &pipeline.ConfigurationError{Msg: fmt.Sprintf("%s is not a git repository", ws)}
		}

		if runMessage != "" {
			if err := commitWorkspace(workspace, runMessage); err != nil {
				return err
			}
		}

		branch, err := workspace.CurrentBranch()
		if err != nil {
			return err
		}
		commits, err := workspace.LatestCommits(latestCommitCount)
		if err != nil {
			return err
		}

		rc := pipeline.NewRunContext(uuid.NewString(), cfg.Project.Name, ws, runConfigPath, cfg.Git.Remote, branch)
		rc.LatestCommits = commits

		dbPath, err := events.DefaultPath(ws)
		if err != nil {
			return err
		}
		ev, err := events.Open(dbPath)
		if err != nil {
			return err
		}
		defer ev.Close()
		if err := ev.Migrate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o := &orchestrator.Orchestrator{
			Cfg:         cfg,
			RC:          rc,
			Cache:       pipeline.NewStore(ws),
			Events:      ev,
			Git:         runner,
			Cmd:         &command.ExecRunner{},
			In:          cmd.InOrStdin(),
			Out:         cmd.OutOrStdout(),
			AutoApprove: runYes,
		}

		fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s starting on %s\n", rc.ShortID(), branch)
		return o.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "relay.yaml", "path to the relay config file")
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "commit the working tree with this message before running")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "skip the publication approval prompt")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &pipeline.ConfigurationError{Msg: err.Error()}
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msg := ""
		for i, e := range errs {
			if i > 0 {
				msg += "; "
			}
			msg += e.Error()
		}
		return nil, &pipeline.ConfigurationError{Msg: msg}
	}
	return cfg, nil
}

func commitWorkspace(repo *git.Repo, message string) error {
	if err := repo.AddAll(); err != nil {
		return err
	}
	staged, err := repo.HasStagedChanges()
	if err != nil {
		return err
	}
	if !staged {
		return &pipeline.ConfigurationError{Msg: "nothing to commit for -m"}
	}
	_, err = repo.Commit(message, false)
	return err
}
