package document

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidFrontMatter = errors.New("front matter is not a mapping")
	ErrUnterminatedHeader = errors.New("front matter header is not terminated")
)

var (
	headerDelim = []byte("---")
	headerEnd   = []byte("...")
	bom         = []byte("\ufeff")
)

// FrontMatter is a parsed YAML header plus the untouched document body.
// The header is kept as a yaml node so rewriting it preserves key order and comments.
type FrontMatter struct {
	node *yaml.Node
	body []byte
}

// ParseFrontMatter splits data into its `---` delimited YAML header and body.
// Content without a header yields an empty header and the whole content as body.
func ParseFrontMatter(data []byte) (*FrontMatter, error) {
	s := bytes.TrimPrefix(data, bom)
	fm := &FrontMatter{node: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, body: data}

	first, rest, ok := cutLine(s)
	if !ok || !bytes.Equal(bytes.TrimRight(first, " \t"), headerDelim) {
		return fm, nil
	}

	var header []byte
	for {
		line, next, more := cutLine(rest)
		trimmed := bytes.TrimRight(line, " \t")
		if bytes.Equal(trimmed, headerDelim) || bytes.Equal(trimmed, headerEnd) {
			fm.body = next
			break
		}
		if !more {
			return nil, ErrUnterminatedHeader
		}
		header = append(header, line...)
		header = append(header, '\n')
		rest = next
	}

	if len(bytes.TrimSpace(header)) == 0 {
		return fm, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(header, &doc); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	if len(doc.Content) == 0 {
		return fm, nil
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrInvalidFrontMatter
	}
	fm.node = doc.Content[0]
	return fm, nil
}

// cutLine returns the first line without its terminator, the remainder, and whether a terminator was found.
func cutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil, false
	}
	line = bytes.TrimSuffix(b[:i], []byte("\r"))
	return line, b[i+1:], true
}

// Get returns the scalar value stored under key.
func (f *FrontMatter) Get(key string) (string, bool) {
	if v := f.lookup(key); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value, true
	}
	return "", false
}

// Set stores a string scalar under key, replacing an existing value in place.
func (f *FrontMatter) Set(key, value string) {
	if v := f.lookup(key); v != nil {
		*v = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
		return
	}
	f.node.Content = append(f.node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

func (f *FrontMatter) lookup(key string) *yaml.Node {
	for i := 0; i+1 < len(f.node.Content); i += 2 {
		if f.node.Content[i].Value == key {
			return f.node.Content[i+1]
		}
	}
	return nil
}

// Fields decodes the header into plain Go values.
func (f *FrontMatter) Fields() (map[string]any, error) {
	out := map[string]any{}
	if len(f.node.Content) == 0 {
		return out, nil
	}
	if err := f.node.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode front matter: %w", err)
	}
	return out, nil
}

// Body returns the content following the header.
func (f *FrontMatter) Body() []byte {
	return f.body
}

// Bytes renders the header and body back into a document.
func (f *FrontMatter) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(headerDelim)
	buf.WriteByte('\n')
	if len(f.node.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(f.node); err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
	}
	buf.Write(headerDelim)
	buf.WriteByte('\n')
	buf.Write(f.body)
	return buf.Bytes(), nil
}
