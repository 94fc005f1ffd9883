package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reviewflow/internal/checks"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

type mockCmd struct {
	calls   [][]string
	results []mockResult
	idx     int
}

type mockResult struct {
	output string
	err    error
}

func (m *mockCmd) Run(args ...string) (string, error) {
	m.calls = append(m.calls, args)
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.output, r.err
}

func createParams() checks.CreateCheckRunParams {
	return checks.CreateCheckRunParams{
		OrganizationAndTeam: pipeline.OrganizationAndTeam{OrganizationID: "org-1"},
		Repository:          checks.RepositoryRef{Owner: "acme", Name: "widgets"},
		HeadSHA:             "abc123",
		Status:              checks.StatusInProgress,
		Name:                "Code Review",
		Output:              checks.Output{Title: "Review started", Summary: "starting"},
	}
}

func TestCheckRunAdapter_CreateOverHTTP(t *testing.T) {
	var gotBody createCheckRunBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widgets/check-runs", r.URL.Path)
		assert.Equal(t, "Bearer org-token", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 4242}`))
	}))
	defer srv.Close()

	tokens := OrgTokens{Default: "default-token", ByOrg: map[string]string{"org-1": "org-token"}}
	a := NewCheckRunAdapter(NewClient(tokens, WithAPIURL(srv.URL)))

	id, err := a.CreateCheckRun(context.Background(), createParams())

	require.NoError(t, err)
	assert.Equal(t, "4242", id)
	assert.Equal(t, "abc123", gotBody.HeadSHA)
	assert.Equal(t, "in_progress", gotBody.Status)
	assert.Equal(t, "Review started", gotBody.Output.Title)
}

func TestCheckRunAdapter_UpdateOverHTTP(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/repos/acme/widgets/check-runs/4242", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"id": 4242}`))
	}))
	defer srv.Close()

	a := NewCheckRunAdapter(NewClient(StaticToken("t"), WithAPIURL(srv.URL)))
	ok, err := a.UpdateCheckRun(context.Background(), checks.UpdateCheckRunParams{
		CheckRunID: "4242",
		Repository: checks.RepositoryRef{Owner: "acme", Name: "widgets"},
		Status:     checks.StatusCompleted,
		Conclusion: checks.ConclusionFailure,
		Output:     &checks.Output{Title: "Review failed", Summary: "boom"},
	})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "completed", gotBody["status"])
	assert.Equal(t, "failure", gotBody["conclusion"])
	_, hasName := gotBody["name"]
	assert.False(t, hasName)
}

func TestCheckRunAdapter_UpdateNotFoundIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewCheckRunAdapter(NewClient(StaticToken("t"), WithAPIURL(srv.URL), WithRetry(0, time.Millisecond)))
	ok, err := a.UpdateCheckRun(context.Background(), checks.UpdateCheckRunParams{
		CheckRunID: "1",
		Repository: checks.RepositoryRef{Owner: "acme", Name: "widgets"},
	})

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckRunAdapter_UpdateEmptyID(t *testing.T) {
	a := NewCheckRunAdapter(NewGHTransport(&mockCmd{}))
	_, err := a.UpdateCheckRun(context.Background(), checks.UpdateCheckRunParams{})
	require.Error(t, err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	defer srv.Close()

	c := NewClient(StaticToken("t"), WithAPIURL(srv.URL), WithRetry(3, time.Millisecond))
	body, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "repos/acme/widgets"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 1}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(StaticToken("t"), WithAPIURL(srv.URL), WithRetry(3, time.Millisecond))
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/user"})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(StaticToken("t"), WithAPIURL(srv.URL), WithRetry(2, time.Millisecond))
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "x"})

	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_MissingToken(t *testing.T) {
	c := NewClient(OrgTokens{})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "x", OrganizationID: "org-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org-9")
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryWithBackoff(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return &APIError{StatusCode: http.StatusBadGateway}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestGHTransport_Create(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{output: `{"id": 77}`}}}
	a := NewCheckRunAdapter(NewGHTransport(mock))

	id, err := a.CreateCheckRun(context.Background(), createParams())

	require.NoError(t, err)
	assert.Equal(t, "77", id)
	require.Len(t, mock.calls, 1)
	assert.Equal(t, []string{
		"api", "--method", "POST", "repos/acme/widgets/check-runs",
		"-f", "head_sha=abc123",
		"-f", "name=Code Review",
		"-f", "output[summary]=starting",
		"-f", "output[title]=Review started",
		"-f", "status=in_progress",
	}, mock.calls[0])
}

func TestGHTransport_Error(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{err: errors.New("gh: not logged in")}}}
	a := NewCheckRunAdapter(NewGHTransport(mock))

	_, err := a.CreateCheckRun(context.Background(), createParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestGHTransport_CreateWithoutID(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{output: `{}`}}}
	a := NewCheckRunAdapter(NewGHTransport(mock))

	id, err := a.CreateCheckRun(context.Background(), createParams())

	require.NoError(t, err)
	assert.Empty(t, id)
}
