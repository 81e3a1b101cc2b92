// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workflow describes the kinds of jobs the driver can hand to the worker.
//
// A WorkflowType is offered on one or more contexts (the screens of the driver it
// shows up on) and gets one id per context, "<base id>_<context>". Its input and
// output shapes say how a batch is turned into positional node inputs and back.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/samber/lo"
)

// AutoGraph asks for a default graph forwarding every input to the matching output.
const AutoGraph = "auto"

// DefaultContexts is used when a definition names none.
var DefaultContexts = []string{"txt2img", "img2img"}

// WorkflowType is an immutable description of one kind of workflow.
type WorkflowType struct {
	BaseID       string
	DisplayName  string
	Contexts     []string
	InputShape   Shape
	OutputShape  Shape
	DefaultGraph *graph.Graph
}

// Definition is the user-facing form of a WorkflowType, as written in YAML files.
type Definition struct {
	BaseID      string   `yaml:"base_id"`
	DisplayName string   `yaml:"display_name"`
	Contexts    []string `yaml:"contexts"`
	Inputs      *Shape   `yaml:"inputs"`
	Outputs     *Shape   `yaml:"outputs"`
	// DefaultGraph is empty (none), "auto", or the path of a JSON graph.
	DefaultGraph string       `yaml:"default_graph"`
	Graph        *graph.Graph `yaml:"graph"`
}

// NewType validates def and builds the workflow type. Relative graph paths are
// resolved against baseDir.
func NewType(def Definition, baseDir string) (*WorkflowType, error) {
	if def.BaseID == "" {
		return nil, fmt.Errorf("workflow type has no base id: %w", errdefs.ErrConfiguration)
	}
	if def.DisplayName == "" {
		return nil, fmt.Errorf("workflow type %s has no display name: %w", def.BaseID, errdefs.ErrConfiguration)
	}

	wt := &WorkflowType{
		BaseID:      def.BaseID,
		DisplayName: def.DisplayName,
		Contexts:    lo.Uniq(def.Contexts),
	}
	if len(wt.Contexts) == 0 {
		wt.Contexts = slices.Clone(DefaultContexts)
	}

	switch {
	case def.Inputs != nil && def.Outputs != nil:
		wt.InputShape, wt.OutputShape = *def.Inputs, *def.Outputs
	case def.Inputs != nil:
		wt.InputShape, wt.OutputShape = *def.Inputs, *def.Inputs
	case def.Outputs != nil:
		wt.InputShape, wt.OutputShape = *def.Outputs, *def.Outputs
	}

	switch {
	case def.Graph != nil:
		if err := def.Graph.Validate(); err != nil {
			return nil, fmt.Errorf("default graph of %s: %w: %w", def.BaseID, errdefs.ErrConfiguration, err)
		}
		g := *def.Graph
		wt.DefaultGraph = &g
	case def.DefaultGraph == AutoGraph:
		if !slices.Equal(wt.InputShape.Tags(), wt.OutputShape.Tags()) {
			return nil, fmt.Errorf("auto graph of %s needs identical input and output types (%s vs %s): %w",
				def.BaseID, wt.InputShape, wt.OutputShape, errdefs.ErrConfiguration)
		}
		g, err := graph.Auto(wt.InputShape.Names(), wt.OutputShape.Names())
		if err != nil {
			return nil, fmt.Errorf("auto graph of %s: %w: %w", def.BaseID, errdefs.ErrConfiguration, err)
		}
		wt.DefaultGraph = &g
	case def.DefaultGraph != "":
		path := def.DefaultGraph
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("default graph of %s: %w: %w", def.BaseID, errdefs.ErrConfiguration, err)
		}
		g, err := graph.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("default graph of %s: %w: %w", def.BaseID, errdefs.ErrConfiguration, err)
		}
		wt.DefaultGraph = &g
	}

	return wt, nil
}

// MustNewType is NewType for definitions known to be valid.
func MustNewType(def Definition) *WorkflowType {
	wt, err := NewType(def, "")
	if err != nil {
		panic(err)
	}
	return wt
}

// ID returns the id of the type on context.
func (wt *WorkflowType) ID(context string) string {
	return wt.BaseID + "_" + context
}

// IDs returns the ids of the type on the given contexts, or on all its contexts
// when none is given.
func (wt *WorkflowType) IDs(contexts ...string) []string {
	return lo.FilterMap(wt.Contexts, func(c string, _ int) (string, bool) {
		return wt.ID(c), len(contexts) == 0 || slices.Contains(contexts, c)
	})
}

// HasID reports whether id is one of the type's ids.
func (wt *WorkflowType) HasID(id string) bool {
	return slices.Contains(wt.IDs(), id)
}

// ContextOf returns the context of one of the type's ids.
func (wt *WorkflowType) ContextOf(id string) (string, bool) {
	return lo.Find(wt.Contexts, func(c string) bool { return wt.ID(c) == id })
}

// Identity reports whether the type's input can stand in for its output.
func (wt *WorkflowType) Identity() bool {
	return wt.InputShape.Equal(wt.OutputShape)
}

func (wt *WorkflowType) String() string {
	return fmt.Sprintf("%q (%s)", wt.DisplayName, wt.BaseID)
}

func shape(s Shape) *Shape { return &s }

// Defaults returns the workflow types every driver offers.
func Defaults() []*WorkflowType {
	return []*WorkflowType{
		MustNewType(Definition{
			BaseID:      "sandbox",
			DisplayName: "Sandbox",
			Contexts:    []string{"tab"},
		}),
		MustNewType(Definition{
			BaseID:       "postprocess",
			DisplayName:  "Postprocess",
			DefaultGraph: AutoGraph,
			Inputs:       shape(Single("IMAGE")),
		}),
		MustNewType(Definition{
			BaseID:       "postprocess_latent",
			DisplayName:  "Postprocess (latent)",
			DefaultGraph: AutoGraph,
			Inputs:       shape(Single("LATENT")),
		}),
		MustNewType(Definition{
			BaseID:       "preprocess",
			DisplayName:  "Preprocess",
			Contexts:     []string{"img2img"},
			DefaultGraph: AutoGraph,
			Inputs:       shape(Single("IMAGE")),
		}),
		MustNewType(Definition{
			BaseID:       "preprocess_latent",
			DisplayName:  "Preprocess (latent)",
			Contexts:     []string{"img2img"},
			DefaultGraph: AutoGraph,
			Inputs:       shape(Single("LATENT")),
		}),
	}
}
