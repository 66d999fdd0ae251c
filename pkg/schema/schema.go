package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Schema is a JSON Schema document in its uncompiled, wire form.
type Schema = json.RawMessage

// node is a compiled schema node. Only the subset needed to validate
// extractor input parameters is supported: type, required, properties,
// and enum.
type node struct {
	Type       string
	Required   map[string]bool
	Properties map[string]*node
	Enum       []interface{}
}

// Compiled is a schema ready to validate instances against.
type Compiled struct {
	root *node
}

// rawNode mirrors the JSON shape accepted on the wire.
type rawNode struct {
	Type       string                  `json:"type"`
	Required   []string                `json:"required"`
	Properties map[string]*rawNode     `json:"properties"`
	Enum       []json.RawMessage       `json:"enum"`
}

// Compile parses s into a Compiled schema. It returns an error if s is not
// valid JSON or names an unsupported type keyword.
func Compile(s Schema) (*Compiled, error) {
	if len(s) == 0 {
		// An absent schema accepts anything — extractors with no
		// configurable parameters are common (S1/S2 in the scenario
		// set both use input_params = {}).
		return &Compiled{root: &node{Type: "object", Required: map[string]bool{}, Properties: map[string]*node{}}}, nil
	}

	var raw rawNode
	if err := json.Unmarshal(s, &raw); err != nil {
		return nil, fmt.Errorf("schema: invalid json: %w", err)
	}

	n, err := compileNode(&raw)
	if err != nil {
		return nil, err
	}
	return &Compiled{root: n}, nil
}

func compileNode(raw *rawNode) (*node, error) {
	n := &node{
		Type:       raw.Type,
		Required:   make(map[string]bool, len(raw.Required)),
		Properties: make(map[string]*node, len(raw.Properties)),
	}

	switch n.Type {
	case "", "object", "string", "number", "integer", "boolean", "array":
	default:
		return nil, fmt.Errorf("schema: unsupported type %q", raw.Type)
	}

	for _, r := range raw.Required {
		n.Required[r] = true
	}

	for name, propRaw := range raw.Properties {
		prop, err := compileNode(propRaw)
		if err != nil {
			return nil, fmt.Errorf("schema: property %q: %w", name, err)
		}
		n.Properties[name] = prop
	}

	for _, e := range raw.Enum {
		var v interface{}
		if err := json.Unmarshal(e, &v); err != nil {
			return nil, fmt.Errorf("schema: invalid enum value: %w", err)
		}
		n.Enum = append(n.Enum, v)
	}

	return n, nil
}

// Validate checks instance against the compiled schema and returns every
// violation found, in deterministic order. A nil/empty result means the
// instance validates.
func (c *Compiled) Validate(instance map[string]interface{}) []string {
	return validateObject(c.root, instance, "")
}

func validateObject(n *node, instance map[string]interface{}, path string) []string {
	var msgs []string

	names := make([]string, 0, len(n.Required))
	for name := range n.Required {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := instance[name]; !ok {
			msgs = append(msgs, fmt.Sprintf("%s: missing required field %q", fieldPath(path), name))
		}
	}

	propNames := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)
	for _, name := range propNames {
		prop := n.Properties[name]
		value, present := instance[name]
		if !present {
			continue
		}
		msgs = append(msgs, validateValue(prop, value, joinPath(path, name))...)
	}

	return msgs
}

func validateValue(n *node, value interface{}, path string) []string {
	if len(n.Enum) > 0 {
		matched := false
		for _, allowed := range n.Enum {
			if allowed == value {
				matched = true
				break
			}
		}
		if !matched {
			return []string{fmt.Sprintf("%s: value not in enum", fieldPath(path))}
		}
	}

	switch n.Type {
	case "", "object":
		if n.Type == "" {
			return nil
		}
		obj, ok := value.(map[string]interface{})
		if !ok {
			return []string{fmt.Sprintf("%s: expected object", fieldPath(path))}
		}
		return validateObject(n, obj, path)
	case "string":
		if _, ok := value.(string); !ok {
			return []string{fmt.Sprintf("%s: expected string", fieldPath(path))}
		}
	case "number", "integer":
		if _, ok := value.(float64); !ok {
			return []string{fmt.Sprintf("%s: expected number", fieldPath(path))}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return []string{fmt.Sprintf("%s: expected boolean", fieldPath(path))}
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return []string{fmt.Sprintf("%s: expected array", fieldPath(path))}
		}
	}

	return nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func fieldPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
