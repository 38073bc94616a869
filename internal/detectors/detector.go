// Package detectors turns camera frames into detection records. Detectors are
// pluggable: a sidecar reader for offline scenarios and an exec adapter that
// shells out to an external vision model.
package detectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"threatfusion/internal/sensors"
)

// DefaultMinConfidence is the score below which detections are discarded.
const DefaultMinConfidence = 0.25

// Detector runs object detection over one image.
type Detector interface {
	Name() string
	Detect(ctx context.Context, image sensors.ImageRef) ([]sensors.DetectionRecord, error)
}

// Config selects and configures a detector.
type Config struct {
	// Kind is "sidecar" (default) or "exec".
	Kind string
	// Command is the exec detector's argv; the image path is appended.
	Command []string
	Env     map[string]string
	Timeout time.Duration
	// TranscriptDir, when set, receives one stderr log per image.
	TranscriptDir string
}

// New builds the detector named by cfg.Kind.
func New(cfg Config) (Detector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "sidecar":
		return &SidecarDetector{}, nil
	case "exec":
		if len(cfg.Command) == 0 {
			return nil, errors.New("exec detector requires a command")
		}
		return &ExecDetector{
			Command:       append([]string(nil), cfg.Command...),
			Env:           cfg.Env,
			Timeout:       cfg.Timeout,
			TranscriptDir: cfg.TranscriptDir,
		}, nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

// Options tune DetectAll.
type Options struct {
	Concurrency   int
	MinConfidence float64
	Logger        *zap.Logger
}

// DetectAll runs d over every image with bounded concurrency. Results are
// concatenated in image order whatever order the detector calls finish in.
// A failure on one image is logged and that image contributes nothing;
// cancellation of ctx aborts the whole run.
func DetectAll(ctx context.Context, d Detector, images []sensors.ImageRef, opts Options) ([]sensors.DetectionRecord, error) {
	if d == nil {
		return nil, errors.New("detector is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}

	perImage := make([][]sensors.DetectionRecord, len(images))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, img := range images {
		if groupCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			dets, err := d.Detect(groupCtx, img)
			if err != nil {
				if ctxErr := groupCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("Detector failed on image",
					zap.String("detector", d.Name()),
					zap.String("image", img.Path),
					zap.Error(err))
				return nil
			}
			perImage[i] = sensors.FilterByConfidence(dets, opts.MinConfidence)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []sensors.DetectionRecord{}
	for _, dets := range perImage {
		out = append(out, dets...)
	}
	logger.Debug("Detection complete",
		zap.String("detector", d.Name()),
		zap.Int("images", len(images)),
		zap.Int("detections", len(out)))
	return out, nil
}
