package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BatchFileName is the name of the batch file inside an incident directory.
const BatchFileName = "plans.json"

func WriteBatch(path string, batch Batch) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure plans dir: %w", err)
	}
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plans: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plans: %w", err)
	}
	return nil
}

func LoadBatch(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("read plans: %w", err)
	}
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return Batch{}, fmt.Errorf("parse plans json: %w", err)
	}
	if err := ValidateBatch(batch); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// ResolveBatchPath accepts either a batch file or the directory holding plans.json.
func ResolveBatchPath(inputPath string) (string, error) {
	if inputPath == "" {
		return "", fmt.Errorf("plans path is required")
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat plans path: %w", err)
	}
	if info.IsDir() {
		return filepath.Join(inputPath, BatchFileName), nil
	}
	return inputPath, nil
}
