package detectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"threatfusion/internal/sensors"
)

// ExecDetector shells out to an external vision model once per image. The
// command receives the image path as its last argument and must print a
// detection payload (list or {"detections": [...]}) on stdout.
type ExecDetector struct {
	Command       []string
	Env           map[string]string
	Timeout       time.Duration
	TranscriptDir string
}

// ExecError reports a detector process that did not exit cleanly.
type ExecError struct {
	Image    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("detector on %s exited with code %d", e.Image, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

func (d *ExecDetector) Name() string {
	return "exec"
}

func (d *ExecDetector) Detect(ctx context.Context, image sensors.ImageRef) ([]sensors.DetectionRecord, error) {
	if len(d.Command) == 0 {
		return nil, errors.New("command is required")
	}
	if image.Path == "" {
		return nil, errors.New("image path is required")
	}
	imagePath, err := filepath.Abs(image.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve image: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if d.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	args := append(append([]string(nil), d.Command[1:]...), imagePath)
	cmd := exec.CommandContext(runCtx, d.Command[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	env := map[string]string{
		"THREATFUSION_IMAGE":     imagePath,
		"THREATFUSION_CAMERA_ID": image.CameraID,
	}
	for k, v := range d.Env {
		env[k] = v
	}
	cmd.Env = mergeEnv(os.Environ(), env)

	if d.TranscriptDir != "" {
		transcript, err := d.openTranscript(imagePath)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = transcript.Close()
		}()
		cmd.Stderr = io.MultiWriter(&stderr, transcript)
	}

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			err = runCtx.Err()
		}
		return nil, &ExecError{
			Image:    image.Path,
			ExitCode: exitCodeFromError(err),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return sensors.ParseDetections(stdout.Bytes(), image.Path)
}

func (d *ExecDetector) openTranscript(imagePath string) (*os.File, error) {
	if err := os.MkdirAll(d.TranscriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	name := filepath.Base(imagePath) + ".detector.log"
	f, err := os.OpenFile(filepath.Join(d.TranscriptDir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return f, nil
}

// mergeEnv overlays overrides on base, dropping base entries they replace.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range overrides {
		merged = append(merged, key+"="+value)
	}
	return merged
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}
