// Package harness builds the threatfusion binary and runs it against
// throwaway workspaces for the integration smoke tests.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// BinEnv names a prebuilt binary to test instead of building one.
const BinEnv = "THREATFUSION_BIN"

var (
	buildOnce sync.Once
	buildDir  string
	buildPath string
	buildErr  error
)

// RepoRoot returns the directory holding go.mod.
func RepoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("verify repo root: %v", err)
	}
	return root
}

// Binary returns the CLI under test, compiling ./cmd/threatfusion on first
// use unless BinEnv points at an existing binary.
func Binary(t *testing.T) string {
	t.Helper()
	if bin := os.Getenv(BinEnv); bin != "" {
		return bin
	}
	root := RepoRoot(t)
	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "threatfusion-bin-")
		if buildErr != nil {
			return
		}
		out := filepath.Join(buildDir, "threatfusion")
		cmd := exec.Command("go", "build", "-o", out, "./cmd/threatfusion")
		cmd.Dir = root
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, stderr.String())
			return
		}
		buildPath = out
	})
	if buildErr != nil {
		t.Fatalf("build threatfusion: %v", buildErr)
	}
	return buildPath
}

// Cleanup removes the build directory. Call it from TestMain after m.Run.
func Cleanup() {
	if buildDir != "" {
		_ = os.RemoveAll(buildDir)
	}
}
