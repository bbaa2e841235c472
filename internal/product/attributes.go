package product

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnrecognizedFormat is returned for attribute documents that are neither
// JSON nor YAML.
var ErrUnrecognizedFormat = errors.New("product: unrecognized attributes format")

// Attribute is a single named attribute value.
type Attribute struct {
	Key   string
	Value any
}

// Attributes is an ordered attribute list. Keys are unique.
type Attributes []Attribute

// Get returns the value stored under key.
func (a Attributes) Get(key string) (any, bool) {
	for _, at := range a {
		if at.Key == key {
			return at.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of key in place, or appends it.
func (a *Attributes) Set(key string, value any) {
	for i := range *a {
		if (*a)[i].Key == key {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Attribute{Key: key, Value: value})
}

// Keys returns the attribute names in order.
func (a Attributes) Keys() []string {
	keys := make([]string, len(a))
	for i, at := range a {
		keys[i] = at.Key
	}
	return keys
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	return slices.Clone(a)
}

// MarshalYAML encodes the attributes as a mapping in list order.
func (a Attributes) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, at := range a {
		var v yaml.Node
		if err := v.Encode(at.Value); err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", at.Key, err)
		}
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: at.Key},
			&v,
		)
	}
	return n, nil
}

// UnmarshalYAML decodes a mapping, keeping document order.
func (a *Attributes) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("attributes: expected a mapping, got %s at line %d", kindName(n.Kind), n.Line)
	}
	out := make(Attributes, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var value any
		if err := n.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("attribute %q: %w", n.Content[i].Value, err)
		}
		out.Set(n.Content[i].Value, value)
	}
	*a = out
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}

// ParseAttributes parses a JSON or YAML attribute document. suffix is the
// file extension including the dot.
func ParseAttributes(data []byte, suffix string) (Attributes, error) {
	if err := checkSuffix(suffix); err != nil {
		return nil, err
	}
	var attrs Attributes
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("parse attributes: %w", err)
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	return attrs, nil
}

// ParseVariableAttributes parses a document mapping variable names to their
// attribute lists.
func ParseVariableAttributes(data []byte, suffix string) (map[string]Attributes, error) {
	if err := checkSuffix(suffix); err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse variable attributes: %w", err)
	}
	vars := make(map[string]Attributes)
	if len(root.Content) == 0 {
		return vars, nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse variable attributes: expected a mapping, got %s", kindName(m.Kind))
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		var attrs Attributes
		if err := m.Content[i+1].Decode(&attrs); err != nil {
			return nil, fmt.Errorf("variable %q: %w", m.Content[i].Value, err)
		}
		vars[m.Content[i].Value] = attrs
	}
	return vars, nil
}

func checkSuffix(suffix string) error {
	switch strings.ToLower(suffix) {
	case ".json", ".yaml", ".yml":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnrecognizedFormat, suffix)
}

// Opener opens a URI for reading.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

func readURI(ctx context.Context, opener Opener, uri string) ([]byte, error) {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open attributes %s: %w", uri, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read attributes %s: %w", uri, err)
	}
	return data, nil
}

// LoadAttributes reads a global attribute document and applies overrides.
func LoadAttributes(ctx context.Context, opener Opener, uri string, overrides map[string]string) (Attributes, error) {
	data, err := readURI(ctx, opener, uri)
	if err != nil {
		return nil, err
	}
	attrs, err := ParseAttributes(data, path.Ext(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		attrs.Set(k, overrides[k])
	}
	return attrs, nil
}

// LoadVariableAttributes reads a variable attribute document.
func LoadVariableAttributes(ctx context.Context, opener Opener, uri string) (map[string]Attributes, error) {
	data, err := readURI(ctx, opener, uri)
	if err != nil {
		return nil, err
	}
	vars, err := ParseVariableAttributes(data, path.Ext(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return vars, nil
}

// ReplaceSnippets returns a copy of attrs with every snippet occurrence in
// string values replaced. Snippets are applied in key order.
func ReplaceSnippets(attrs Attributes, snippets map[string]string) Attributes {
	order := slices.Sorted(maps.Keys(snippets))
	out := attrs.Clone()
	for i, at := range out {
		s, ok := at.Value.(string)
		if !ok {
			continue
		}
		for _, snippet := range order {
			s = strings.ReplaceAll(s, snippet, snippets[snippet])
		}
		out[i].Value = s
	}
	return out
}
