// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"encoding/json"
	"testing"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestShape_Destructure(t *testing.T) {
	tests := []struct {
		name     string
		shape    Shape
		batched  any
		expected []any
		wantErr  bool
	}{
		{"single wraps", Single("IMAGE"), "img", []any{"img"}, false},
		{"single keeps slices whole", Single("IMAGE"), []any{1, 2}, []any{[]any{1, 2}}, false},
		{"tuple of matching arity", Tuple("IMAGE", "LATENT"), []any{"img", "lat"}, []any{"img", "lat"}, false},
		{"typed slice", Tuple("IMAGE", "IMAGE"), []string{"a", "b"}, []any{"a", "b"}, false},
		{"tuple too short", Tuple("IMAGE", "LATENT"), []any{"img"}, nil, true},
		{"tuple from scalar", Tuple("IMAGE"), "img", nil, true},
		{"tuple from nil", Tuple("IMAGE"), nil, nil, true},
		{"empty tuple", Tuple(), []any{}, []any{}, false},
		{"mapping in port order", Mapping(Port{"b", "LATENT"}, Port{"a", "IMAGE"}), map[string]any{"a": 1, "b": 2}, []any{2, 1}, false},
		{"mapping with extra key", Mapping(Port{"a", "IMAGE"}), map[string]any{"a": 1, "z": 2}, nil, true},
		{"mapping from slice", Mapping(Port{"a", "IMAGE"}), []any{1}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := tt.shape.Destructure(tt.batched)
			if tt.wantErr {
				assert.ErrorIs(t, err, errdefs.ErrShapeMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, args)
		})
	}
}

func TestShape_Reshape(t *testing.T) {
	out, err := Single("IMAGE").Reshape(map[string]any{"0": "img"})
	require.NoError(t, err)
	assert.Equal(t, "img", out)

	out, err = Single("IMAGE").Reshape(map[string]any{"image": "img"})
	require.NoError(t, err)
	assert.Equal(t, "img", out, "a lone output is taken whatever its name")

	_, err = Single("IMAGE").Reshape(map[string]any{"a": 1, "b": 2})
	assert.ErrorIs(t, err, errdefs.ErrShapeMismatch)

	out, err = Tuple("IMAGE", "LATENT").Reshape(map[string]any{"1": "lat", "0": "img"})
	require.NoError(t, err)
	assert.Equal(t, []any{"img", "lat"}, out)

	_, err = Tuple("IMAGE", "LATENT").Reshape(map[string]any{"0": "img"})
	assert.ErrorIs(t, err, errdefs.ErrShapeMismatch)

	out, err = Mapping(Port{"a", "IMAGE"}).Reshape(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out)
}

func TestShape_Equal(t *testing.T) {
	assert.True(t, Single("IMAGE").Equal(Single("IMAGE")))
	assert.False(t, Single("IMAGE").Equal(Tuple("IMAGE")))
	assert.False(t, Tuple("IMAGE").Equal(Tuple("LATENT")))
	assert.True(t, Shape{}.Equal(Tuple()))
}

func TestShape_JSONKeepsMappingOrder(t *testing.T) {
	data, err := json.Marshal(Mapping(Port{"z", "IMAGE"}, Port{"a", "LATENT"}))
	require.NoError(t, err)
	assert.Equal(t, `{"z":"IMAGE","a":"LATENT"}`, string(data))

	data, err = json.Marshal(Tuple("IMAGE", "LATENT"))
	require.NoError(t, err)
	assert.Equal(t, `["IMAGE","LATENT"]`, string(data))

	data, err = json.Marshal(Single("IMAGE"))
	require.NoError(t, err)
	assert.Equal(t, `"IMAGE"`, string(data))
}

func TestShape_UnmarshalYAML(t *testing.T) {
	var doc struct {
		A Shape `yaml:"a"`
		B Shape `yaml:"b"`
		C Shape `yaml:"c"`
	}
	src := "a: IMAGE\nb: [IMAGE, LATENT]\nc:\n  z: IMAGE\n  a: LATENT\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))

	assert.True(t, doc.A.Equal(Single("IMAGE")))
	assert.True(t, doc.B.Equal(Tuple("IMAGE", "LATENT")))
	assert.Equal(t, []string{"z", "a"}, doc.C.Names())
	assert.Equal(t, KindMapping, doc.C.Kind())
}
