package fieldmap

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/erp/ingestion/internal/domain/mapping"
)

// Errors returned when loading field rules
var (
	// ErrRulesNotFound is returned when the rules file does not exist
	ErrRulesNotFound = errors.New("fieldmap: rules file not found")
	// ErrInvalidRules is returned when the rules document has the wrong shape
	ErrInvalidRules = errors.New("fieldmap: invalid rules")
)

// DefaultRulesFile is where the rule set is read from by default
const DefaultRulesFile = "config/field_mappings_v2.yaml"

// FieldRule lists the header aliases for one standard field
type FieldRule struct {
	Field   string
	Aliases []string
}

// FieldRules keeps the order the fields were declared in. Matching walks
// fields in this order
type FieldRules []FieldRule

// Names returns the standard field names in declaration order
func (r FieldRules) Names() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Field
	}
	return out
}

// Rules is the parsed platform -> data type -> granularity -> fields tree
type Rules struct {
	tree map[string]map[string]map[string]FieldRules
}

// RuleSetInfo describes one leaf of the rule tree
type RuleSetInfo struct {
	Platform    string `json:"platform"`
	DataType    string `json:"data_type"`
	Granularity string `json:"granularity"`
	Fields      int    `json:"fields"`
}

// LoadRules reads a rules YAML file
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRulesNotFound, path)
		}
		return nil, fmt.Errorf("fieldmap: read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses a rules document:
//
//	<platform>:
//	  <data_type>:
//	    <granularity|common>:
//	      <standard_field>: [alias, ...]
func ParseRules(data []byte) (*Rules, error) {
	r := &Rules{tree: make(map[string]map[string]map[string]FieldRules)}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if len(doc.Content) == 0 {
		return r, nil
	}

	root := doc.Content[0]
	err := eachPair(root, "document", func(platform string, pNode *yaml.Node) error {
		platform = strings.ToLower(platform)
		return eachPair(pNode, platform, func(dataType string, dNode *yaml.Node) error {
			dataType = strings.ToLower(dataType)
			return eachPair(dNode, platform+"."+dataType, func(gran string, gNode *yaml.Node) error {
				gran = strings.ToLower(gran)
				fields, err := parseFields(gNode, platform+"."+dataType+"."+gran)
				if err != nil {
					return err
				}
				r.set(platform, dataType, gran, fields)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func parseFields(node *yaml.Node, where string) (FieldRules, error) {
	fields := make(FieldRules, 0, len(node.Content)/2)
	err := eachPair(node, where, func(field string, v *yaml.Node) error {
		rule := FieldRule{Field: field}
		switch v.Kind {
		case yaml.ScalarNode:
			if v.Value != "" {
				rule.Aliases = []string{v.Value}
			}
		case yaml.SequenceNode:
			for _, item := range v.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("%w: %s.%s line %d: aliases must be strings", ErrInvalidRules, where, field, item.Line)
				}
				rule.Aliases = append(rule.Aliases, item.Value)
			}
		default:
			return fmt.Errorf("%w: %s.%s line %d: expected alias list", ErrInvalidRules, where, field, v.Line)
		}
		fields = append(fields, rule)
		return nil
	})
	return fields, err
}

func eachPair(node *yaml.Node, where string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: %s line %d: expected mapping", ErrInvalidRules, where, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rules) set(platform, dataType, gran string, fields FieldRules) {
	if r.tree[platform] == nil {
		r.tree[platform] = make(map[string]map[string]FieldRules)
	}
	if r.tree[platform][dataType] == nil {
		r.tree[platform][dataType] = make(map[string]FieldRules)
	}
	r.tree[platform][dataType][gran] = fields
}

func (r *Rules) get(platform, dataType, gran string) FieldRules {
	if r == nil {
		return nil
	}
	return r.tree[platform][dataType][gran]
}

// Lookup returns the fields for a file and the rule path they came from.
// Resolution: platform+granularity, platform common, generic common.
// An empty result means no rules apply
func (r *Rules) Lookup(meta mapping.FileMetadata) (FieldRules, string) {
	n := meta.Normalized()
	gran := meta.RuleGranularity()

	if fields := r.get(n.Platform, n.DataType, gran); len(fields) > 0 {
		return fields, n.Platform + "." + n.DataType + "." + gran
	}
	if gran != mapping.CommonGranularity {
		if fields := r.get(n.Platform, n.DataType, mapping.CommonGranularity); len(fields) > 0 {
			return fields, n.Platform + "." + n.DataType + "." + mapping.CommonGranularity
		}
	}
	if fields := r.get(mapping.GenericPlatform, n.DataType, mapping.CommonGranularity); len(fields) > 0 {
		return fields, mapping.GenericPlatform + "." + n.DataType + "." + mapping.CommonGranularity
	}
	return nil, ""
}

// RuleSets lists every leaf in the tree, sorted
func (r *Rules) RuleSets() []RuleSetInfo {
	out := make([]RuleSetInfo, 0)
	if r == nil {
		return out
	}
	for p, dts := range r.tree {
		for dt, grans := range dts {
			for g, fields := range grans {
				out = append(out, RuleSetInfo{Platform: p, DataType: dt, Granularity: g, Fields: len(fields)})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		if a.DataType != b.DataType {
			return a.DataType < b.DataType
		}
		return a.Granularity < b.Granularity
	})
	return out
}
