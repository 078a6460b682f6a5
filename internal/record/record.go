// Package record implements the persisted license record kept for every
// audited dependency, including the normalized content comparison used to
// decide whether a cached record still matches what is on disk.
package record

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Reserved and conventional record keys
const (
	KeyLicenses = "licenses"
	KeyNotices  = "notices"
	KeyName     = "name"
	KeyVersion  = "version"
	KeyType     = "type"
)

// bulletPattern matches a leading markdown list marker on any line
var bulletPattern = regexp.MustCompile(`(?m)^([ \t]*)[-*][ \t]+`)

// License is one captured license text and the files it was read from
type License struct {
	Sources []string
	Text    string
}

// Record is the license record for one dependency. The licenses and
// notices keys are typed fields; every other key is free-form metadata.
type Record struct {
	Licenses []License
	Notices  []string
	metadata map[string]any
}

// New creates a record with the given content and metadata
func New(licenses []License, notices []string, metadata map[string]any) *Record {
	r := &Record{
		Licenses: licenses,
		Notices:  notices,
		metadata: make(map[string]any, len(metadata)),
	}
	for k, v := range metadata {
		r.metadata[k] = v
	}
	return r
}

// Get returns the value stored under key
func (r *Record) Get(key string) any {
	switch key {
	case KeyLicenses:
		return r.Licenses
	case KeyNotices:
		return r.Notices
	default:
		return r.metadata[key]
	}
}

// GetString returns the value stored under key formatted as a string
func (r *Record) GetString(key string) string {
	switch v := r.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Set stores value under key. Values set for licenses or notices are
// converted to the typed fields and rejected if they can't be.
func (r *Record) Set(key string, value any) error {
	switch key {
	case KeyLicenses:
		licenses, err := toLicenses(value)
		if err != nil {
			return err
		}
		r.Licenses = licenses
	case KeyNotices:
		notices, err := toStrings(value)
		if err != nil {
			return fmt.Errorf("invalid notices: %w", err)
		}
		r.Notices = notices
	default:
		if r.metadata == nil {
			r.metadata = make(map[string]any)
		}
		r.metadata[key] = value
	}
	return nil
}

// Keys returns the metadata keys, name first and the rest sorted
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.metadata))
	for k := range r.metadata {
		if k != KeyName {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := r.metadata[KeyName]; ok {
		keys = append([]string{KeyName}, keys...)
	}
	return keys
}

// Content returns the canonical concatenation of all license texts.
// The second return value is false when the record holds no licenses.
func (r *Record) Content() (string, bool) {
	if r == nil || len(r.Licenses) == 0 {
		return "", false
	}

	type entry struct {
		key  string
		text string
	}

	entries := make([]entry, 0, len(r.Licenses))
	for _, l := range r.Licenses {
		text := normalize(l.Text)
		key := text
		if len(l.Sources) > 0 {
			sources := append([]string(nil), l.Sources...)
			sort.Strings(sources)
			key = strings.Join(sources, ", ")
		}
		entries = append(entries, entry{key: key, text: text})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].key != entries[j].key {
			return entries[i].key < entries[j].key
		}
		return entries[i].text < entries[j].text
	})

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.text)
	}
	return sb.String(), true
}

// Matches returns true if other is a record with the same normalized content
func (r *Record) Matches(other any) bool {
	o, ok := other.(*Record)
	if !ok || o == nil || r == nil {
		return false
	}

	content, hasContent := r.Content()
	otherContent, otherHasContent := o.Content()
	return hasContent == otherHasContent && content == otherContent
}

// normalize removes list bullet markers, which differ between renderers
func normalize(text string) string {
	return bulletPattern.ReplaceAllString(text, "$1")
}

func toLicenses(value any) ([]License, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case License:
		return []License{v}, nil
	case []License:
		return append([]License(nil), v...), nil
	case string:
		return []License{{Text: v}}, nil
	case []string:
		licenses := make([]License, 0, len(v))
		for _, text := range v {
			licenses = append(licenses, License{Text: text})
		}
		return licenses, nil
	case map[string]any:
		l, err := licenseFromMap(v)
		if err != nil {
			return nil, err
		}
		return []License{l}, nil
	case []any:
		licenses := make([]License, 0, len(v))
		for _, item := range v {
			converted, err := toLicenses(item)
			if err != nil {
				return nil, err
			}
			licenses = append(licenses, converted...)
		}
		return licenses, nil
	default:
		return nil, fmt.Errorf("invalid license entry of type %T", value)
	}
}

func licenseFromMap(m map[string]any) (License, error) {
	text, ok := m["text"].(string)
	if !ok && m["text"] != nil {
		return License{}, fmt.Errorf("license text must be a string, got %T", m["text"])
	}

	var sources []string
	for _, key := range []string{"sources", "source"} {
		s, err := toStrings(m[key])
		if err != nil {
			return License{}, fmt.Errorf("invalid license %s: %w", key, err)
		}
		sources = append(sources, s...)
	}

	return License{Sources: sources, Text: text}, nil
}

func toStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", value)
	}
}
