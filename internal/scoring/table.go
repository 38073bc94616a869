package scoring

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is the coarse risk band of an emitter.
type Category string

const (
	CategoryLow      Category = "low"
	CategoryMedium   Category = "medium"
	CategoryHigh     Category = "high"
	CategoryCritical Category = "critical"
)

var categoryRank = map[Category]int{
	CategoryLow:      1,
	CategoryMedium:   2,
	CategoryHigh:     3,
	CategoryCritical: 4,
}

// Rank orders categories from low (1) to critical (4); unknown values rank 0.
func (c Category) Rank() int {
	return categoryRank[c]
}

// UnknownKey is the table entry used when no other entry matches.
const UnknownKey = "unknown"

// Entry is one row of the emitter risk table.
type Entry struct {
	Key                  string   `json:"key" yaml:"key,omitempty"`
	ThreatScore          float64  `json:"threat_score" yaml:"threat_score"`
	Category             Category `json:"category" yaml:"category"`
	DetectionProbability float64  `json:"detection_probability" yaml:"detection_probability"`
	RecommendedAction    string   `json:"recommended_action" yaml:"recommended_action"`
	Description          string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Risk is the result of a table lookup.
type Risk struct {
	EmitterType          string   `json:"emitter_type"`
	MatchedKey           string   `json:"matched_key"`
	ThreatScore          float64  `json:"threat_score"`
	Category             Category `json:"category"`
	DetectionProbability float64  `json:"detection_probability"`
	RecommendedAction    string   `json:"recommended_action"`
	Description          string   `json:"description,omitempty"`
	Fallback             bool     `json:"fallback"`
}

// Lookuper resolves an emitter or threat type to a Risk.
type Lookuper interface {
	Lookup(emitterType string) Risk
}

// Table is an ordered emitter risk table. Order matters: lookups take the
// first substring match. A Table is not modified after construction.
type Table struct {
	Entries []Entry
}

var defaultUnknown = Entry{
	Key:                  UnknownKey,
	ThreatScore:          60,
	Category:             CategoryMedium,
	DetectionProbability: 0.6,
	RecommendedAction:    "Increase vigilance - gather more intelligence",
	Description:          "Unidentified emitter requiring further analysis",
}

// DefaultTable returns the compiled-in table used when no file is available.
func DefaultTable() *Table {
	return &Table{Entries: []Entry{
		{
			Key:                  "early_warning_radar",
			ThreatScore:          85,
			Category:             CategoryHigh,
			DetectionProbability: 0.9,
			RecommendedAction:    "Immediate emission control - reduce radar cross-section",
			Description:          "Long-range surveillance radar capable of detecting ships at extended ranges",
		},
		{
			Key:                  "fire_control_radar",
			ThreatScore:          95,
			Category:             CategoryCritical,
			DetectionProbability: 0.95,
			RecommendedAction:    "Emergency stealth mode - prepare defensive countermeasures",
			Description:          "Targeting radar indicating imminent weapon engagement",
		},
		{
			Key:                  "navigation_radar",
			ThreatScore:          40,
			Category:             CategoryLow,
			DetectionProbability: 0.5,
			RecommendedAction:    "Continue monitoring - no immediate action required",
			Description:          "Standard maritime navigation radar",
		},
		{
			Key:                  "communication",
			ThreatScore:          30,
			Category:             CategoryLow,
			DetectionProbability: 0.3,
			RecommendedAction:    "Monitor communications - assess intent",
			Description:          "Radio communication signals",
		},
		{
			Key:                  "jammer",
			ThreatScore:          90,
			Category:             CategoryCritical,
			DetectionProbability: 0.85,
			RecommendedAction:    "Activate counter-jamming - switch to backup frequencies",
			Description:          "Active jamming system targeting our communications/sensors",
		},
		defaultUnknown,
	}}
}

var separatorRun = regexp.MustCompile(`[\s\-_]+`)

// NormalizeEmitterType lowercases and collapses whitespace, hyphen and
// underscore runs into a single underscore.
func NormalizeEmitterType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = separatorRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Lookup returns the first entry whose key contains, or is contained in, the
// normalised type. Unmatched and empty types resolve to the unknown entry.
func (t *Table) Lookup(emitterType string) Risk {
	norm := NormalizeEmitterType(emitterType)
	if norm != "" && t != nil {
		for _, e := range t.Entries {
			if e.Key == UnknownKey {
				continue
			}
			if strings.Contains(norm, e.Key) || strings.Contains(e.Key, norm) {
				return riskFrom(emitterType, e, false)
			}
		}
	}
	return riskFrom(emitterType, t.unknown(), true)
}

func (t *Table) unknown() Entry {
	if t != nil {
		for _, e := range t.Entries {
			if e.Key == UnknownKey {
				return e
			}
		}
	}
	return defaultUnknown
}

func riskFrom(emitterType string, e Entry, fallback bool) Risk {
	return Risk{
		EmitterType:          emitterType,
		MatchedKey:           e.Key,
		ThreatScore:          e.ThreatScore,
		Category:             e.Category,
		DetectionProbability: e.DetectionProbability,
		RecommendedAction:    e.RecommendedAction,
		Description:          e.Description,
		Fallback:             fallback,
	}
}

// Validate checks ranges and key uniqueness.
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Entries))
	for i, e := range t.Entries {
		if e.Key == "" {
			return fmt.Errorf("emitters[%d]: key is required", i)
		}
		if seen[e.Key] {
			return fmt.Errorf("emitters[%d]: duplicate key %q", i, e.Key)
		}
		seen[e.Key] = true
		if e.ThreatScore < 0 || e.ThreatScore > 100 {
			return fmt.Errorf("%s: threat_score must be within [0,100]", e.Key)
		}
		if e.Category.Rank() == 0 {
			return fmt.Errorf("%s: unknown category %q", e.Key, e.Category)
		}
		if e.DetectionProbability < 0 || e.DetectionProbability > 1 {
			return fmt.Errorf("%s: detection_probability must be within [0,1]", e.Key)
		}
	}
	return nil
}

// Render writes one stable line per entry, used for diffs and display.
func (t *Table) Render() string {
	var b strings.Builder
	for _, e := range t.Entries {
		fmt.Fprintf(&b, "%s: score=%g category=%s detection_probability=%g action=%q\n",
			e.Key, e.ThreatScore, e.Category, e.DetectionProbability, e.RecommendedAction)
	}
	return b.String()
}

type rawEntry struct {
	Key                  string   `yaml:"key"`
	ThreatScore          *float64 `yaml:"threat_score"`
	Category             string   `yaml:"category"`
	DetectionProbability *float64 `yaml:"detection_probability"`
	RecommendedAction    string   `yaml:"recommended_action"`
	Description          string   `yaml:"description"`
}

func (r rawEntry) entry(key string) Entry {
	e := Entry{
		Key:                  NormalizeEmitterType(key),
		ThreatScore:          50,
		Category:             CategoryMedium,
		DetectionProbability: 0.5,
		RecommendedAction:    "Monitor situation",
		Description:          r.Description,
	}
	if r.ThreatScore != nil {
		e.ThreatScore = *r.ThreatScore
	}
	if r.Category != "" {
		e.Category = Category(strings.ToLower(strings.TrimSpace(r.Category)))
	}
	if r.DetectionProbability != nil {
		e.DetectionProbability = *r.DetectionProbability
	}
	if r.RecommendedAction != "" {
		e.RecommendedAction = r.RecommendedAction
	}
	return e
}

// ParseTable reads a YAML or JSON table. "emitters" may be a mapping keyed by
// emitter type, whose document order is kept, or a list of entries with a key.
func ParseTable(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scoring table: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse scoring table: expected an object with emitters")
	}

	var emitters *yaml.Node
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "emitters" {
			emitters = root.Content[i+1]
			break
		}
	}
	if emitters == nil {
		return nil, fmt.Errorf("parse scoring table: emitters is required")
	}

	table := &Table{}
	switch emitters.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(emitters.Content); i += 2 {
			var raw rawEntry
			if err := emitters.Content[i+1].Decode(&raw); err != nil {
				return nil, fmt.Errorf("parse scoring table entry %s: %w", emitters.Content[i].Value, err)
			}
			table.Entries = append(table.Entries, raw.entry(emitters.Content[i].Value))
		}
	case yaml.SequenceNode:
		var raws []rawEntry
		if err := emitters.Decode(&raws); err != nil {
			return nil, fmt.Errorf("parse scoring table entries: %w", err)
		}
		for _, raw := range raws {
			table.Entries = append(table.Entries, raw.entry(raw.Key))
		}
	default:
		return nil, fmt.Errorf("parse scoring table: emitters must be a mapping or a list")
	}

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("validate scoring table: %w", err)
	}
	return table, nil
}

// LoadTable reads and parses a table file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring table: %w", err)
	}
	return ParseTable(data)
}

// MarshalYAML renders the table in the mapping form ParseTable accepts.
func (t *Table) MarshalYAML() (interface{}, error) {
	emitters := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range t.Entries {
		var value yaml.Node
		body := e
		body.Key = ""
		if err := value.Encode(body); err != nil {
			return nil, err
		}
		emitters.Content = append(emitters.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Key},
			&value,
		)
	}
	return &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "emitters"},
		emitters,
	}}, nil
}
