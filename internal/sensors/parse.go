package sensors

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// defaultConfidence applies when a detector omits its score.
const defaultConfidence = 0.5

// InputParseError reports a sensor payload that could not be shaped into records.
type InputParseError struct {
	Source string
	Err    error
}

func (e *InputParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *InputParseError) Unwrap() error { return e.Err }

type rawDetection struct {
	SourceImageID string       `yaml:"source_image_id"`
	ImagePath     string       `yaml:"image_path"`
	ObjectType    string       `yaml:"object_type"`
	ClassName     string       `yaml:"class_name"`
	Class         string       `yaml:"class"`
	Confidence    *float64     `yaml:"confidence"`
	BoundingBox   *BoundingBox `yaml:"bounding_box"`
	Error         string       `yaml:"error"`
}

type rawDetectionDocument struct {
	ImagePath  string         `yaml:"image_path"`
	Detections []rawDetection `yaml:"detections"`
}

type rawTrace struct {
	TraceID            string   `yaml:"trace_id"`
	Timestamp          string   `yaml:"timestamp"`
	RangeKM            *float64 `yaml:"range_km"`
	BearingDegrees     *float64 `yaml:"bearing_degrees"`
	ElevationDegrees   *float64 `yaml:"elevation_degrees"`
	VelocityMPS        *float64 `yaml:"velocity_mps"`
	DopplerFrequencyHz *float64 `yaml:"doppler_frequency_hz"`
	RCSDbsm            *float64 `yaml:"rcs_dbsm"`
	Band               string   `yaml:"band"`
}

type rawTraceDocument struct {
	Traces      []rawTrace `yaml:"traces"`
	RadarTraces []rawTrace `yaml:"radar_traces"`
}

// ParseDetections shapes a JSON or YAML detector payload into records.
// The payload is either a bare list or an object with a "detections" list.
// Entries carrying an "error" field are detector failures and are skipped.
// An empty payload is an explicit "no detections" and yields an empty list.
func ParseDetections(data []byte, source string) ([]DetectionRecord, error) {
	root, err := documentRoot(data)
	if err != nil {
		return nil, &InputParseError{Source: source, Err: err}
	}
	if root == nil {
		return []DetectionRecord{}, nil
	}

	var doc rawDetectionDocument
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&doc.Detections); err != nil {
			return nil, &InputParseError{Source: source, Err: err}
		}
	case yaml.MappingNode:
		if err := root.Decode(&doc); err != nil {
			return nil, &InputParseError{Source: source, Err: err}
		}
	default:
		return nil, &InputParseError{Source: source, Err: fmt.Errorf("expected a list or an object with detections")}
	}

	return shapeDetections(doc, source)
}

// ParseTraces shapes a JSON or YAML radar payload into traces.
// The payload is either a bare list or an object with "traces" or "radar_traces".
func ParseTraces(data []byte, source string) ([]RadarTrace, error) {
	root, err := documentRoot(data)
	if err != nil {
		return nil, &InputParseError{Source: source, Err: err}
	}
	if root == nil {
		return []RadarTrace{}, nil
	}

	var raws []rawTrace
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&raws); err != nil {
			return nil, &InputParseError{Source: source, Err: err}
		}
	case yaml.MappingNode:
		var doc rawTraceDocument
		if err := root.Decode(&doc); err != nil {
			return nil, &InputParseError{Source: source, Err: err}
		}
		raws = append(doc.Traces, doc.RadarTraces...)
	default:
		return nil, &InputParseError{Source: source, Err: fmt.Errorf("expected a list or an object with traces")}
	}

	return shapeTraces(raws, source)
}

// DetectionsOrEmpty parses detections, substituting an empty list when the payload is malformed.
func DetectionsOrEmpty(data []byte, source string, logger *zap.Logger) []DetectionRecord {
	dets, err := ParseDetections(data, source)
	if err != nil {
		loggerOrNop(logger).Warn("Discarding malformed detection payload",
			zap.String("source", source), zap.Error(err))
		return []DetectionRecord{}
	}
	return dets
}

// TracesOrEmpty parses traces, substituting an empty list so fusion falls back to visual-only.
func TracesOrEmpty(data []byte, source string, logger *zap.Logger) []RadarTrace {
	traces, err := ParseTraces(data, source)
	if err != nil {
		loggerOrNop(logger).Warn("Discarding malformed radar payload; fusion will run visual-only",
			zap.String("source", source), zap.Error(err))
		return []RadarTrace{}
	}
	return traces
}

func documentRoot(data []byte) (*yaml.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	return root, nil
}

func shapeDetections(doc rawDetectionDocument, source string) ([]DetectionRecord, error) {
	defaultImage := doc.ImagePath
	if defaultImage == "" {
		defaultImage = source
	}

	var errs ValidationErrors
	out := make([]DetectionRecord, 0, len(doc.Detections))
	for i, raw := range doc.Detections {
		if raw.Error != "" {
			continue
		}
		itemSource := fmt.Sprintf("%s[%d]", source, i)

		rec := DetectionRecord{
			SourceImageID: firstNonEmpty(raw.SourceImageID, raw.ImagePath, defaultImage),
			ClassName:     firstNonEmpty(raw.ClassName, raw.Class),
			Confidence:    defaultConfidence,
		}
		rec.SourceImageID = imageID(rec.SourceImageID)
		if raw.Confidence != nil {
			rec.Confidence = *raw.Confidence
		}
		if raw.BoundingBox != nil {
			rec.BoundingBox = *raw.BoundingBox
		}
		switch {
		case raw.ObjectType != "":
			rec.ObjectType = ObjectType(strings.ToLower(strings.TrimSpace(raw.ObjectType)))
		case rec.ClassName != "":
			rec.ObjectType = ObjectTypeForClass(rec.ClassName)
		default:
			rec.ObjectType = ObjectUnknown
		}

		if err := rec.Validate(itemSource); err != nil {
			errs = append(errs, err.(ValidationErrors)...)
			continue
		}
		out = append(out, rec)
	}

	if len(errs) > 0 {
		return nil, &InputParseError{Source: source, Err: errs}
	}
	return out, nil
}

func shapeTraces(raws []rawTrace, source string) ([]RadarTrace, error) {
	var errs ValidationErrors
	out := make([]RadarTrace, 0, len(raws))
	for i, raw := range raws {
		itemSource := fmt.Sprintf("%s[%d]", source, i)
		if raw.RangeKM == nil {
			errs = append(errs, ValidationError{Source: itemSource, Field: "range_km", Message: "is required"})
		}
		if raw.BearingDegrees == nil {
			errs = append(errs, ValidationError{Source: itemSource, Field: "bearing_degrees", Message: "is required"})
		}
		band, ok := ParseBand(raw.Band)
		if !ok {
			errs = append(errs, ValidationError{Source: itemSource, Field: "band", Message: fmt.Sprintf("unknown band %q", raw.Band)})
		}
		if raw.RangeKM == nil || raw.BearingDegrees == nil || !ok {
			continue
		}

		trace := RadarTrace{
			TraceID:            raw.TraceID,
			Timestamp:          raw.Timestamp,
			RangeKM:            *raw.RangeKM,
			BearingDegrees:     *raw.BearingDegrees,
			ElevationDegrees:   raw.ElevationDegrees,
			VelocityMPS:        raw.VelocityMPS,
			DopplerFrequencyHz: raw.DopplerFrequencyHz,
			RCSDbsm:            raw.RCSDbsm,
			Band:               band,
		}
		if trace.TraceID == "" {
			trace.TraceID = fmt.Sprintf("TRK-%03d", i+1)
		}
		if err := trace.Validate(itemSource); err != nil {
			errs = append(errs, err.(ValidationErrors)...)
			continue
		}
		out = append(out, trace)
	}

	if len(errs) > 0 {
		return nil, &InputParseError{Source: source, Err: errs}
	}
	return out, nil
}

// imageID reduces a path to its file name; plain identifiers pass through.
func imageID(pathOrID string) string {
	if strings.ContainsAny(pathOrID, `/\`) {
		return filepath.Base(pathOrID)
	}
	return pathOrID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
