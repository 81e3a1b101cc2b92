// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/protocol"
)

type runOptions struct {
	configPath      string
	url             string
	context         string
	queueFront      *bool
	identityOnError bool
}

func runCommand(args []string, out io.Writer) error {
	opts := &runOptions{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.url, "url", "", "Driver URL (defaults to the configured driver address)")
	fs.StringVar(&opts.context, "context", "txt2img", "Context of the workflow type id")
	fs.Func("queue-front", "Queue at the front (true) or back (false) instead of the configured default", func(s string) error {
		front, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		opts.queueFront = &front
		return nil
	})
	fs.BoolVar(&opts.identityOnError, "identity-on-error", false, "Return the input unchanged when the run fails")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("workflow base id and batch required\n\nUsage:\n  %s run [--context txt2img] <base-id> <batch-json>", appName)
	}

	if opts.url == "" {
		cfg, err := config.NewConfig(opts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts.url = "http://" + cfg.Driver.Server.Addr()
	}
	return executeRun(context.Background(), fs.Arg(0), fs.Arg(1), opts, out)
}

// parseBatch reads the batch as JSON, falling back to the literal string.
func parseBatch(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func executeRun(ctx context.Context, baseID, batch string, opts *runOptions, out io.Writer) error {
	body, err := json.Marshal(protocol.RunWorkflowRequest{
		Context:         opts.context,
		Batch:           parseBatch(batch),
		QueueFront:      opts.queueFront,
		IdentityOnError: opts.identityOnError,
	})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(opts.url, "/") + "/api/v1/workflows/" + url.PathEscape(baseID) + "/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach driver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("%s failed (%s)", baseID, e.Kind)))
		return fmt.Errorf("driver replied %d: %s", resp.StatusCode, e.Error)
	}

	var result protocol.RunWorkflowResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode driver reply: %w", err)
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s: %d output(s)", baseID, len(result.Outputs))))
	for i, o := range result.Outputs {
		data, _ := json.MarshalIndent(o, "  ", "  ")
		fmt.Fprintf(out, "%s %s\n", dimStyle.Render(fmt.Sprintf("[%d]", i)), data)
	}
	return nil
}
