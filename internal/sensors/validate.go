package sensors

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError describes one invalid field in a sensor payload.
type ValidationError struct {
	Source  string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

// Validate checks the record's value ranges.
func (d DetectionRecord) Validate(source string) error {
	var errs ValidationErrors
	if strings.TrimSpace(d.SourceImageID) == "" {
		errs = append(errs, ValidationError{Source: source, Field: "source_image_id", Message: "is required"})
	}
	if !d.ObjectType.Valid() {
		errs = append(errs, ValidationError{Source: source, Field: "object_type", Message: fmt.Sprintf("unknown object type %q", d.ObjectType)})
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, ValidationError{Source: source, Field: "confidence", Message: "must be within [0,1]"})
	}
	if d.BoundingBox.Width < 0 || d.BoundingBox.Height < 0 {
		errs = append(errs, ValidationError{Source: source, Field: "bounding_box", Message: "width and height must be non-negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the trace's value ranges.
func (t RadarTrace) Validate(source string) error {
	var errs ValidationErrors
	if math.IsNaN(t.RangeKM) || math.IsInf(t.RangeKM, 0) || t.RangeKM < 0 {
		errs = append(errs, ValidationError{Source: source, Field: "range_km", Message: "must be a non-negative number"})
	}
	if math.IsNaN(t.BearingDegrees) || t.BearingDegrees < 0 || t.BearingDegrees > 360 {
		errs = append(errs, ValidationError{Source: source, Field: "bearing_degrees", Message: "must be within [0,360]"})
	}
	if t.ElevationDegrees != nil && (*t.ElevationDegrees < -90 || *t.ElevationDegrees > 90) {
		errs = append(errs, ValidationError{Source: source, Field: "elevation_degrees", Message: "must be within [-90,90]"})
	}
	optional := []struct {
		field string
		value *float64
	}{
		{"velocity_mps", t.VelocityMPS},
		{"doppler_frequency_hz", t.DopplerFrequencyHz},
		{"rcs_dbsm", t.RCSDbsm},
	}
	for _, o := range optional {
		if o.value != nil && (math.IsNaN(*o.value) || math.IsInf(*o.value, 0)) {
			errs = append(errs, ValidationError{Source: source, Field: o.field, Message: "must be finite"})
		}
	}
	if t.Band != "" {
		if b, ok := ParseBand(string(t.Band)); !ok || b != t.Band {
			errs = append(errs, ValidationError{Source: source, Field: "band", Message: fmt.Sprintf("unknown band %q", t.Band)})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
