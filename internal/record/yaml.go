package record

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const documentMarker = "---\n"

// SerializationError is returned when a cached record can't be decoded
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid dependency record: %v", e.Err)
	}
	return fmt.Sprintf("invalid dependency record %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// licenseEntry is the structured form of a License on disk
type licenseEntry struct {
	Sources []string `yaml:"sources"`
	Text    string   `yaml:"text"`
}

// MarshalYAML writes a license without sources as a bare string
func (l License) MarshalYAML() (any, error) {
	if len(l.Sources) == 0 {
		return l.Text, nil
	}
	return licenseEntry{Sources: l.Sources, Text: l.Text}, nil
}

// UnmarshalYAML accepts a bare string or a mapping with text and
// source/sources, each of which may be a string or a list of strings
func (l *License) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		l.Sources = nil
		return node.Decode(&l.Text)
	case yaml.MappingNode:
		var raw struct {
			Text    string     `yaml:"text"`
			Source  stringList `yaml:"source"`
			Sources stringList `yaml:"sources"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		l.Text = raw.Text
		l.Sources = append(append([]string(nil), raw.Sources...), raw.Source...)
		return nil
	default:
		return fmt.Errorf("line %d: license entry must be a string or a mapping", node.Line)
	}
}

type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if isNull(node) {
			*s = nil
			return nil
		}
		*s = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*s = values
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// Encode serializes the record. Metadata comes first, followed by the
// licenses and notices keys, which are always present.
func (r *Record) Encode() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	for _, key := range r.Keys() {
		value := &yaml.Node{}
		if err := value.Encode(r.metadata[key]); err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		root.Content = append(root.Content, keyNode(key), value)
	}

	licenses := r.Licenses
	if licenses == nil {
		licenses = []License{}
	}
	notices := r.Notices
	if notices == nil {
		notices = []string{}
	}

	for _, field := range []struct {
		key   string
		value any
	}{
		{KeyLicenses, licenses},
		{KeyNotices, notices},
	} {
		value := &yaml.Node{}
		if err := value.Encode(field.value); err != nil {
			return nil, fmt.Errorf("encode %s: %w", field.key, err)
		}
		root.Content = append(root.Content, keyNode(field.key), value)
	}

	var buf bytes.Buffer
	buf.WriteString(documentMarker)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a serialized record
func Decode(data []byte) (*Record, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &SerializationError{Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &SerializationError{Err: errors.New("empty document")}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &SerializationError{Err: fmt.Errorf("line %d: record must be a mapping", root.Line)}
	}

	r := New(nil, nil, nil)
	var haveLicenses, haveNotices bool
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]

		switch key {
		case KeyLicenses:
			if isNull(value) {
				break
			}
			if err := value.Decode(&r.Licenses); err != nil {
				return nil, &SerializationError{Err: fmt.Errorf("licenses: %w", err)}
			}
			haveLicenses = true
		case KeyNotices:
			if isNull(value) {
				break
			}
			if err := value.Decode(&r.Notices); err != nil {
				return nil, &SerializationError{Err: fmt.Errorf("notices: %w", err)}
			}
			haveNotices = true
		default:
			var v any
			if err := value.Decode(&v); err != nil {
				return nil, &SerializationError{Err: fmt.Errorf("%s: %w", key, err)}
			}
			r.metadata[key] = v
		}
	}

	if !haveLicenses {
		return nil, &SerializationError{Err: errors.New("missing licenses")}
	}
	if !haveNotices {
		return nil, &SerializationError{Err: errors.New("missing notices")}
	}
	return r, nil
}

// Read loads a record from a file
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r, err := Decode(data)
	if err != nil {
		var serr *SerializationError
		if errors.As(err, &serr) {
			serr.Path = path
		}
		return nil, err
	}
	return r, nil
}

// Save writes the record to a file, creating parent directories
func (r *Record) Save(path string) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}
