// Package github publishes pipeline progress as GitHub check runs, either
// through the REST API or through the gh CLI.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Request is one GitHub API call.
type Request struct {
	Method string
	Path   string // relative to the API root, e.g. "repos/o/r/check-runs"
	Body   any
	// OrganizationID selects the installation token for multi-tenant setups.
	OrganizationID string
}

// Transport executes GitHub API requests and returns the raw response body.
type Transport interface {
	Do(ctx context.Context, req Request) ([]byte, error)
}

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// GHTransport sends requests through `gh api`, reusing the CLI's own
// authentication. OrganizationID is ignored.
type GHTransport struct {
	cmd CmdRunner
}

// NewGHTransport creates a Transport backed by the gh CLI.
func NewGHTransport(cmd CmdRunner) *GHTransport {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	return &GHTransport{cmd: cmd}
}

// Do implements Transport.
func (t *GHTransport) Do(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := []string{"api", "--method", req.Method, strings.TrimPrefix(req.Path, "/")}
	fields, err := bodyFields(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", req.Method, req.Path, err)
	}
	for _, f := range fields {
		args = append(args, "-f", f)
	}

	out, err := t.cmd.Run(args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	return []byte(out), nil
}

// bodyFields flattens a JSON-encodable body into gh's key[sub]=value form,
// sorted by key.
func bodyFields(body any) ([]string, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	var fields []string
	flatten("", m, &fields)
	sort.Strings(fields)
	return fields, nil
}

func flatten(prefix string, m map[string]any, out *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "[" + k + "]"
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		case string:
			*out = append(*out, key+"="+val)
		default:
			*out = append(*out, fmt.Sprintf("%s=%v", key, val))
		}
	}
}
