package sensors

import "strings"

// ObjectType is the coarse category a vision detector assigns.
type ObjectType string

const (
	ObjectDrone    ObjectType = "drone"
	ObjectVessel   ObjectType = "vessel"
	ObjectAircraft ObjectType = "aircraft"
	ObjectMissile  ObjectType = "missile"
	ObjectVehicle  ObjectType = "vehicle"
	ObjectUnknown  ObjectType = "unknown"
)

var objectTypes = map[ObjectType]struct{}{
	ObjectDrone:    {},
	ObjectVessel:   {},
	ObjectAircraft: {},
	ObjectMissile:  {},
	ObjectVehicle:  {},
	ObjectUnknown:  {},
}

// Valid reports whether o is one of the known categories.
func (o ObjectType) Valid() bool {
	_, ok := objectTypes[o]
	return ok
}

// IsUAV reports whether the type is airborne and possibly unmanned.
func (o ObjectType) IsUAV() bool {
	return o == ObjectDrone || o == ObjectAircraft
}

// classObjectTypes maps COCO-style detector class names onto object types.
// bus and truck stand in for ships in the generic models the detectors run.
var classObjectTypes = map[string]ObjectType{
	"car":        ObjectVehicle,
	"motorcycle": ObjectVehicle,
	"train":      ObjectVehicle,
	"airplane":   ObjectAircraft,
	"aeroplane":  ObjectAircraft,
	"bus":        ObjectVessel,
	"truck":      ObjectVessel,
	"boat":       ObjectVessel,
	"ship":       ObjectVessel,
	"bird":       ObjectDrone,
	"kite":       ObjectDrone,
	"drone":      ObjectDrone,
	"uav":        ObjectDrone,
	"missile":    ObjectMissile,
}

// ObjectTypeForClass maps a raw class label to an ObjectType, defaulting to unknown.
func ObjectTypeForClass(class string) ObjectType {
	class = strings.ToLower(strings.TrimSpace(class))
	if ot, ok := classObjectTypes[class]; ok {
		return ot
	}
	return ObjectUnknown
}

// Band is a radar frequency band designator.
type Band string

const (
	BandX  Band = "X"
	BandKu Band = "Ku"
	BandKa Band = "Ka"
	BandL  Band = "L"
	BandS  Band = "S"
)

// ParseBand accepts band names case-insensitively. An empty string is a valid absent band.
func ParseBand(s string) (Band, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	for _, b := range []Band{BandX, BandKu, BandKa, BandL, BandS} {
		if strings.EqualFold(string(b), s) {
			return b, true
		}
	}
	return "", false
}

type BoundingBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// DetectionRecord is one object seen in one image.
type DetectionRecord struct {
	SourceImageID string      `json:"source_image_id" yaml:"source_image_id"`
	ObjectType    ObjectType  `json:"object_type" yaml:"object_type"`
	ClassName     string      `json:"class_name,omitempty" yaml:"class_name,omitempty"`
	Confidence    float64     `json:"confidence" yaml:"confidence"`
	BoundingBox   BoundingBox `json:"bounding_box" yaml:"bounding_box"`
}

// RadarTrace is a single radar return. Optional measurements are nil when absent.
type RadarTrace struct {
	TraceID            string   `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	Timestamp          string   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	RangeKM            float64  `json:"range_km" yaml:"range_km"`
	BearingDegrees     float64  `json:"bearing_degrees" yaml:"bearing_degrees"`
	ElevationDegrees   *float64 `json:"elevation_degrees,omitempty" yaml:"elevation_degrees,omitempty"`
	VelocityMPS        *float64 `json:"velocity_mps,omitempty" yaml:"velocity_mps,omitempty"`
	DopplerFrequencyHz *float64 `json:"doppler_frequency_hz,omitempty" yaml:"doppler_frequency_hz,omitempty"`
	RCSDbsm            *float64 `json:"rcs_dbsm,omitempty" yaml:"rcs_dbsm,omitempty"`
	Band               Band     `json:"band,omitempty" yaml:"band,omitempty"`
}

// Doppler returns the Doppler shift, or 0 when not measured.
func (t RadarTrace) Doppler() float64 {
	if t.DopplerFrequencyHz == nil {
		return 0
	}
	return *t.DopplerFrequencyHz
}

// Velocity returns the radial velocity, or 0 when not measured.
func (t RadarTrace) Velocity() float64 {
	if t.VelocityMPS == nil {
		return 0
	}
	return *t.VelocityMPS
}

// Clone copies the optional measurements so the result shares no pointers with t.
func (t RadarTrace) Clone() RadarTrace {
	out := t
	out.ElevationDegrees = cloneFloat(t.ElevationDegrees)
	out.VelocityMPS = cloneFloat(t.VelocityMPS)
	out.DopplerFrequencyHz = cloneFloat(t.DopplerFrequencyHz)
	out.RCSDbsm = cloneFloat(t.RCSDbsm)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v, for building traces in code.
func Float(v float64) *float64 {
	return &v
}

// FilterByConfidence keeps detections at or above minConfidence, preserving order.
func FilterByConfidence(dets []DetectionRecord, minConfidence float64) []DetectionRecord {
	out := make([]DetectionRecord, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out
}
