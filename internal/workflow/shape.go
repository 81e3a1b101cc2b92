// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ShapeKind is the container kind of a batch.
type ShapeKind int

// The zero Shape is an empty tuple.
const (
	// KindTuple is an ordered list of values.
	KindTuple ShapeKind = iota
	// KindSingle is one unwrapped value.
	KindSingle
	// KindMapping is a set of named values.
	KindMapping
)

func (k ShapeKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindTuple:
		return "tuple"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Port is one positional value of a batch. Name is the key the executor stores
// the value under; Tag is the data type shown to users (IMAGE, LATENT...).
type Port struct {
	Name string `json:"name" yaml:"name"`
	Tag  string `json:"tag" yaml:"tag"`
}

// Shape describes how a batch is laid out.
type Shape struct {
	kind  ShapeKind
	ports []Port
}

// Single is a shape holding one value of type tag.
func Single(tag string) Shape {
	return Shape{kind: KindSingle, ports: []Port{{Name: "0", Tag: tag}}}
}

// Tuple is a shape holding one value per tag, by position.
func Tuple(tags ...string) Shape {
	return Shape{kind: KindTuple, ports: lo.Map(tags, func(tag string, i int) Port {
		return Port{Name: strconv.Itoa(i), Tag: tag}
	})}
}

// Mapping is a shape holding one value per port, by name. Port order is kept.
func Mapping(ports ...Port) Shape {
	return Shape{kind: KindMapping, ports: slices.Clone(ports)}
}

func (s Shape) Kind() ShapeKind { return s.kind }

// Ports returns the positional ports.
func (s Shape) Ports() []Port { return slices.Clone(s.ports) }

// Names returns the port names in order.
func (s Shape) Names() []string {
	return lo.Map(s.ports, func(p Port, _ int) string { return p.Name })
}

// Tags returns the port tags in order.
func (s Shape) Tags() []string {
	return lo.Map(s.ports, func(p Port, _ int) string { return p.Tag })
}

// Equal reports whether both shapes have the same kind and ports.
func (s Shape) Equal(o Shape) bool {
	return s.kind == o.kind && slices.Equal(s.ports, o.ports)
}

func (s Shape) String() string {
	switch s.kind {
	case KindSingle:
		return s.ports[0].Tag
	case KindTuple:
		return fmt.Sprintf("%v", s.Tags())
	default:
		return fmt.Sprintf("%v", s.ports)
	}
}

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errdefs.ErrShapeMismatch)
}

// Destructure turns a batch laid out as s into positional arguments.
func (s Shape) Destructure(batched any) ([]any, error) {
	switch s.kind {
	case KindSingle:
		return []any{batched}, nil

	case KindTuple:
		v := reflect.ValueOf(batched)
		if batched == nil || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
			return nil, mismatch("expected a tuple of %d values, got %T", len(s.ports), batched)
		}
		if v.Len() != len(s.ports) {
			return nil, mismatch("expected a tuple of %d values %v, got %d", len(s.ports), s.Tags(), v.Len())
		}
		args := make([]any, v.Len())
		for i := range args {
			args[i] = v.Index(i).Interface()
		}
		return args, nil

	case KindMapping:
		m, ok := batched.(map[string]any)
		if !ok {
			return nil, mismatch("expected a mapping of %v, got %T", s.Names(), batched)
		}
		got := lo.Keys(m)
		slices.Sort(got)
		want := s.Names()
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return nil, mismatch("expected keys %v, got %v", want, got)
		}
		return lo.Map(s.ports, func(p Port, _ int) any { return m[p.Name] }), nil
	}
	return nil, mismatch("unknown shape kind %s", s.kind)
}

// Reshape turns one batch of named outputs into the layout of s.
func (s Shape) Reshape(outputs map[string]any) (any, error) {
	switch s.kind {
	case KindSingle:
		if v, ok := outputs[s.ports[0].Name]; ok {
			return v, nil
		}
		if len(outputs) == 1 {
			return lo.Values(outputs)[0], nil
		}
		return nil, mismatch("expected one output, got %d", len(outputs))

	case KindTuple:
		out := make([]any, len(s.ports))
		for i, p := range s.ports {
			v, ok := outputs[p.Name]
			if !ok {
				return nil, mismatch("output %d (%s) is missing", i, p.Tag)
			}
			out[i] = v
		}
		return out, nil

	case KindMapping:
		out := make(map[string]any, len(s.ports))
		for _, p := range s.ports {
			v, ok := outputs[p.Name]
			if !ok {
				return nil, mismatch("output %q is missing", p.Name)
			}
			out[p.Name] = v
		}
		return out, nil
	}
	return nil, mismatch("unknown shape kind %s", s.kind)
}

// Describe returns the shape as plain data: a tag, a list of tags, or a map of
// name to tag.
func (s Shape) Describe() any {
	switch s.kind {
	case KindSingle:
		return s.ports[0].Tag
	case KindTuple:
		return s.Tags()
	default:
		return lo.SliceToMap(s.ports, func(p Port) (string, string) { return p.Name, p.Tag })
	}
}

// MarshalJSON writes the shape like Describe, keeping mapping order.
func (s Shape) MarshalJSON() ([]byte, error) {
	if s.kind != KindMapping {
		return json.Marshal(s.Describe())
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s.ports {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(p.Name)
		v, _ := json.Marshal(p.Tag)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML reads a scalar as Single, a sequence as Tuple and a mapping as
// Mapping, in document order.
func (s *Shape) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = Single(node.Value)
	case yaml.SequenceNode:
		var tags []string
		if err := node.Decode(&tags); err != nil {
			return err
		}
		*s = Tuple(tags...)
	case yaml.MappingNode:
		ports := make([]Port, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			ports = append(ports, Port{Name: node.Content[i].Value, Tag: node.Content[i+1].Value})
		}
		*s = Mapping(ports...)
	default:
		return fmt.Errorf("line %d: a shape is a tag, a list of tags or a map of tags", node.Line)
	}
	return nil
}
