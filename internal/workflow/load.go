// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/noldarim/procbridge/internal/errdefs"
	"gopkg.in/yaml.v3"
)

// File is the layout of a workflow types file.
type File struct {
	WorkflowTypes []Definition `yaml:"workflow_types"`
}

// LoadFile reads the workflow types defined in a YAML file. Graph paths are
// relative to the file.
func LoadFile(path string) ([]*WorkflowType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow types: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow types %s: %w: %w", path, errdefs.ErrConfiguration, err)
	}

	dir := filepath.Dir(path)
	types := make([]*WorkflowType, 0, len(f.WorkflowTypes))
	for _, def := range f.WorkflowTypes {
		wt, err := NewType(def, dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		types = append(types, wt)
	}
	return types, nil
}
