package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lucasnoah/reviewflow/internal/checks"
)

// CheckRunAdapter implements checks.Adapter for GitHub.
type CheckRunAdapter struct {
	transport Transport
}

// NewCheckRunAdapter creates an adapter sending requests through t.
func NewCheckRunAdapter(t Transport) *CheckRunAdapter {
	return &CheckRunAdapter{transport: t}
}

var _ checks.Adapter = (*CheckRunAdapter)(nil)

type checkRunOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Text    string `json:"text,omitempty"`
}

type createCheckRunBody struct {
	Name    string         `json:"name"`
	HeadSHA string         `json:"head_sha"`
	Status  string         `json:"status"`
	Output  checkRunOutput `json:"output"`
}

type updateCheckRunBody struct {
	Name       string          `json:"name,omitempty"`
	Status     string          `json:"status,omitempty"`
	Conclusion string          `json:"conclusion,omitempty"`
	Output     *checkRunOutput `json:"output,omitempty"`
}

type checkRunResponse struct {
	ID int64 `json:"id"`
}

// CreateCheckRun implements checks.Adapter.
func (a *CheckRunAdapter) CreateCheckRun(ctx context.Context, p checks.CreateCheckRunParams) (string, error) {
	body := createCheckRunBody{
		Name:    p.Name,
		HeadSHA: p.HeadSHA,
		Status:  apiStatus(p.Status),
		Output:  checkRunOutput{Title: p.Output.Title, Summary: p.Output.Summary, Text: p.Output.Text},
	}
	out, err := a.transport.Do(ctx, Request{
		Method:         http.MethodPost,
		Path:           checkRunsPath(p.Repository),
		Body:           body,
		OrganizationID: p.OrganizationAndTeam.OrganizationID,
	})
	if err != nil {
		return "", fmt.Errorf("create check run for %s: %w", p.HeadSHA, err)
	}

	var resp checkRunResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("parse check run response: %w", err)
	}
	if resp.ID == 0 {
		return "", nil
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

// UpdateCheckRun implements checks.Adapter. A 404 or 422 from GitHub is
// reported as a rejected update rather than an error.
func (a *CheckRunAdapter) UpdateCheckRun(ctx context.Context, p checks.UpdateCheckRunParams) (bool, error) {
	if p.CheckRunID == "" {
		return false, errors.New("update check run: empty id")
	}
	body := updateCheckRunBody{
		Name:       p.Name,
		Status:     apiStatus(p.Status),
		Conclusion: strings.ToLower(string(p.Conclusion)),
	}
	if p.Output != nil {
		body.Output = &checkRunOutput{Title: p.Output.Title, Summary: p.Output.Summary, Text: p.Output.Text}
	}

	_, err := a.transport.Do(ctx, Request{
		Method:         http.MethodPatch,
		Path:           checkRunsPath(p.Repository) + "/" + p.CheckRunID,
		Body:           body,
		OrganizationID: p.OrganizationAndTeam.OrganizationID,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusUnprocessableEntity) {
			return false, nil
		}
		return false, fmt.Errorf("update check run %s: %w", p.CheckRunID, err)
	}
	return true, nil
}

func checkRunsPath(r checks.RepositoryRef) string {
	return fmt.Sprintf("repos/%s/%s/check-runs", r.Owner, r.Name)
}

func apiStatus(s checks.Status) string {
	return strings.ToLower(string(s))
}
