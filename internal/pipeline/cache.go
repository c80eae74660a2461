package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the Output Cache: one JSON file per stage under
// <workspace>/.relay/cache. Files are overwritten atomically, so re-running
// a stage leaves exactly one record, holding the latest run.
type Store struct {
	dir     string
	aliases map[string]string // stage name -> additional name to write under
}

// NewStore creates a Store rooted in the workspace's cache directory.
func NewStore(workspacePath string) *Store {
	return &Store{
		dir:     filepath.Join(workspacePath, ".relay", "cache"),
		aliases: make(map[string]string),
	}
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Alias registers an additional name that outputs of stage `from` are
// materialized under. Downstream readers keyed on a historical stage name
// read the alias file; the alias copy carries the target name in its
// agent_name field so the reader sees a self-consistent record.
func (s *Store) Alias(from, to string) {
	s.aliases[from] = to
}

func (s *Store) path(stage string) string {
	return filepath.Join(s.dir, stage+".json")
}

// Write persists a stage output, overwriting any prior record for the same
// stage name, and materializes registered aliases.
func (s *Store) Write(out *StageOutput) error {
	if out.AgentName == "" {
		return &IntegrityError{Msg: "stage output has no agent name"}
	}
	if err := WriteJSON(s.path(out.AgentName), out); err != nil {
		return fmt.Errorf("write output %s: %w", out.AgentName, err)
	}
	if to, ok := s.aliases[out.AgentName]; ok {
		aliased := *out
		aliased.AgentName = to
		if err := WriteJSON(s.path(to), &aliased); err != nil {
			return fmt.Errorf("write alias %s -> %s: %w", out.AgentName, to, err)
		}
	}
	return nil
}

// Read loads the latest output for a stage.
func (s *Store) Read(stage string) (*StageOutput, error) {
	var out StageOutput
	if err := ReadJSON(s.path(stage), &out); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no cached output for stage %q", stage)
		}
		return nil, err
	}
	return &out, nil
}

// Has reports whether an output exists for a stage.
func (s *Store) Has(stage string) bool {
	_, err := os.Stat(s.path(stage))
	return err == nil
}

// WriteAtomic replaces the file at path in one step: the bytes go to a
// sidecar file first and a rename swaps it in, so a crash mid-write leaves
// either the old record or the new one, never a torn file. The pipeline is
// single-writer, which keeps the fixed sidecar name safe.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteAtomic(path, append(data, '\n'))
}

// ReadJSON unmarshals the file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
