// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/noldarim/procbridge/internal/app"
	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/state"
)

type workflowsOptions struct {
	configPath string
	context    string
}

func workflowsCommand(args []string, out io.Writer) error {
	opts := &workflowsOptions{}
	fs := flag.NewFlagSet("workflows", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.context, "context", "", "Only list ids of this context")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return listWorkflows(opts, out)
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func listWorkflows(opts *workflowsOptions, out io.Writer) error {
	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := app.LoadRegistry(cfg.Session.WorkflowTypesFile)
	if err != nil {
		return fmt.Errorf("failed to load workflow types: %w", err)
	}
	store := state.NewStore(cfg.Session)

	var contexts []string
	if opts.context != "" {
		contexts = []string{opts.context}
	}
	types := reg.Types(contexts...)
	if len(types) == 0 {
		fmt.Fprintln(out, "No workflow types found.")
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s  %s  %s  %s  %s\n",
		cell(headerStyle, "ID", 32), cell(headerStyle, "NAME", 24),
		cell(headerStyle, "INPUTS", 16), cell(headerStyle, "OUTPUTS", 16), headerStyle.Render("ENABLED"))
	fmt.Fprintln(out, dimStyle.Render(strings.Repeat("─", 32+24+16+16+7+8)))
	for _, wt := range types {
		for _, id := range wt.IDs(contexts...) {
			enabled := enabledStyle.Render("yes")
			if !store.Enabled(id) {
				enabled = disabledStyle.Render("no")
			}
			fmt.Fprintf(out, "%s  %s  %s  %s  %s\n",
				cell(plainStyle, id, 32), cell(plainStyle, wt.DisplayName, 24),
				cell(dimStyle, describe(wt.InputShape.Describe()), 16),
				cell(dimStyle, describe(wt.OutputShape.Describe()), 16), enabled)
		}
	}
	fmt.Fprintln(out)
	return nil
}
