package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const starterConfig = `project:
  name: myproject

git:
  remote: origin
  base_branch: main

exec:
  command: "go build ./..."
  timeout: "5m"

test:
  command: "go test ./..."
  timeout: "10m"

checks:
  command: ""
  fix_command: ""

# optimizer:
#   enabled: true
# database:
#   host: localhost
#   user: relay
#   password: ${RELAY_DB_PASSWORD}
#   name: mydb

# chat:
#   enabled: true
#   token: ${RELAY_CHAT_TOKEN}
#   channel: eng-commits
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the current workspace for relay runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := os.Getwd()
		if err != nil {
			return err
		}

		for _, dir := range []string{"cache", "logs", "reports", "chat"} {
			if err := os.MkdirAll(filepath.Join(ws, ".relay", dir), 0o755); err != nil {
				return fmt.Errorf("create .relay/%s: %w", dir, err)
			}
		}

		cfgPath := filepath.Join(ws, "relay.yaml")
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(starterConfig), 0o644); err != nil {
				return fmt.Errorf("write relay.yaml: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote relay.yaml, edit it before the first run")
		}

		if err := ensureIgnored(filepath.Join(ws, ".gitignore"), ".relay/"); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "workspace ready")
		return nil
	},
}

// ensureIgnored appends entry to the gitignore file unless already present.
func ensureIgnored(path, entry string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	_, err = f.WriteString(entry + "\n")
	return err
}
