// Package workspace lays out the on-disk incident workspace: an inbox for
// scenario files, per-incident artifact directories, config, audit and logs.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace defines workspace-relative paths for threatfusion operations.
type Workspace struct {
	Root         string
	InboxDir     string
	IncidentsDir string
	ConfigDir    string
	AuditDir     string
	LogsDir      string
	AuditDBPath  string
	StateDBPath  string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// New returns the layout under root without touching the filesystem.
func New(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return newWorkspace(abs), nil
}

// EnsureDirs creates the standard workspace directories.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	for _, dir := range []string{w.InboxDir, w.IncidentsDir, w.ConfigDir, w.AuditDir, w.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// IncidentDir is where one incident's plans, selection and report live.
func (w *Workspace) IncidentDir(incidentID string) string {
	return filepath.Join(w.IncidentsDir, incidentID)
}

// ScoringTablePath is the workspace's editable emitter table.
func (w *Workspace) ScoringTablePath() string {
	return filepath.Join(w.ConfigDir, "emitter_risk.yaml")
}

// ConfigPath is the workspace config file.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.ConfigDir, "threatfusion.yaml")
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

// ListInbox returns the scenario files waiting in the inbox, sorted by name.
func (w *Workspace) ListInbox() ([]string, error) {
	entries, err := os.ReadDir(w.InboxDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			out = append(out, filepath.Join(w.InboxDir, e.Name()))
		}
	}
	return out, nil
}

func newWorkspace(root string) *Workspace {
	return &Workspace{
		Root:         root,
		InboxDir:     filepath.Join(root, "inbox"),
		IncidentsDir: filepath.Join(root, "incidents"),
		ConfigDir:    filepath.Join(root, "config"),
		AuditDir:     filepath.Join(root, "audit"),
		LogsDir:      filepath.Join(root, "logs"),
		AuditDBPath:  filepath.Join(root, "audit", "audit.sqlite"),
		StateDBPath:  filepath.Join(root, "audit", "daemon.sqlite"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
