package guardrails

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ViolationFileName records why an operator file was refused.
const ViolationFileName = "violation.json"

// FileHash returns the hex SHA-256 of a file, or "" when it does not exist.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IntegrityCheck pins a published file so later tampering can be detected.
type IntegrityCheck struct {
	Path       string
	BeforeHash string
}

// NewIntegrityCheck hashes path as it is now.
func NewIntegrityCheck(path string) (*IntegrityCheck, error) {
	h, err := FileHash(path)
	if err != nil {
		return nil, err
	}
	return &IntegrityCheck{Path: path, BeforeHash: h}, nil
}

// Verify fails when the file changed or disappeared since the check was made.
func (c *IntegrityCheck) Verify() error {
	after, err := FileHash(c.Path)
	if err != nil {
		return err
	}
	if after != c.BeforeHash {
		return fmt.Errorf("%s was modified after it was published", filepath.Base(c.Path))
	}
	return nil
}

// BuildViolation stamps a violation record.
func BuildViolation(violationType string, details map[string]any) map[string]any {
	v := map[string]any{
		"type":        violationType,
		"detected_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, val := range details {
		v[k] = val
	}
	return v
}

// WriteViolation writes violation.json into dir.
func WriteViolation(dir string, violation map[string]any) error {
	data, err := json.MarshalIndent(violation, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ViolationFileName), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ViolationFileName, err)
	}
	return nil
}
