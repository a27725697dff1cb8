package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient implements Client against a Jira-class REST API: GET
// /issue/{key}, POST /issue/{key}/transitions, POST /issue/{key}/comment.
// The exact paths below follow Jira's own REST shape closely enough to be
// a drop-in against a real Jira Server/Cloud instance, but nothing here
// depends on the go-jira package (absent from the pack) — it's the
// teacher's internal/github client-building idiom applied to a different
// wire format.
type HTTPClient struct {
	baseURL string
	login   string
	token   string
	client  *http.Client
	retries int
}

// NewHTTPClient builds a tracker client. timeout/retries follow the
// original's JiraConfig defaults (timeout=10s, retries=3).
func NewHTTPClient(baseURL, login, token string, timeout time.Duration, retries int) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		login:   login,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
	}
}

type jiraIssueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
		FixVersions []struct {
			Name string `json:"name"`
		} `json:"fixVersions"`
		Assignee struct {
			Name string `json:"name"`
		} `json:"assignee"`
	} `json:"fields"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.login, c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.retries; attempt++ {
		resp, lastErr = c.client.Do(req)
		if lastErr == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if lastErr == nil {
			resp.Body.Close()
		}
		if attempt == c.retries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 4
	}
	if lastErr != nil {
		return nil, &TransientError{Err: lastErr}
	}
	return resp, nil
}

func (c *HTTPClient) GetIssue(ctx context.Context, key string) (*Issue, error) {
	slog.Debug("tracker: get issue", "key", key)
	resp, err := c.do(ctx, http.MethodGet, "/rest/api/2/issue/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Key: key}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("failed to get issue %s: %w", key, &TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)})
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("failed to get issue %s: %w", key, &PermanentError{Err: fmt.Errorf("status %d", resp.StatusCode)})
	}

	var parsed jiraIssueResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode issue %s: %w", key, err)
	}

	var fixVersions []string
	for _, v := range parsed.Fields.FixVersions {
		fixVersions = append(fixVersions, v.Name)
	}

	return &Issue{
		Key:         parsed.Key,
		Project:     parsed.Fields.Project.Key,
		Status:      parsed.Fields.Status.Name,
		FixVersions: fixVersions,
		Assignee:    parsed.Fields.Assignee.Name,
	}, nil
}

func (c *HTTPClient) TransitionIssue(ctx context.Context, key, toStatus string) error {
	slog.Debug("tracker: transition issue", "key", key, "to", toStatus)
	transitions, err := c.listTransitions(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to transition issue %s to %s: %w", key, toStatus, err)
	}
	id, ok := transitions[toStatus]
	if !ok {
		return fmt.Errorf("failed to transition issue %s to %s: %w", key, toStatus,
			&PermanentError{Err: fmt.Errorf("no transition named %q available", toStatus)})
	}
	return c.postTransition(ctx, key, toStatus, id)
}

// TransitionIssueAny implements the no_throw fallback chain: it looks up the
// issue's currently available transitions once, then walks toStatuses in
// order, skipping any status the workflow has no transition for rather than
// erroring, and posts the first one that is available.
func (c *HTTPClient) TransitionIssueAny(ctx context.Context, key string, toStatuses ...string) (string, error) {
	slog.Debug("tracker: transition issue (fallback chain)", "key", key, "candidates", toStatuses)
	transitions, err := c.listTransitions(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to transition issue %s: %w", key, err)
	}
	for _, toStatus := range toStatuses {
		id, ok := transitions[toStatus]
		if !ok {
			continue
		}
		if err := c.postTransition(ctx, key, toStatus, id); err != nil {
			return "", err
		}
		return toStatus, nil
	}
	return "", fmt.Errorf("failed to transition issue %s to any of %v: %w", key, toStatuses,
		&PermanentError{Err: fmt.Errorf("no transition available for statuses %v", toStatuses)})
}

func (c *HTTPClient) postTransition(ctx context.Context, key, toStatus, id string) error {
	payload, _ := json.Marshal(map[string]any{
		"transition": map[string]string{"id": id},
	})
	resp, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(key)+"/transitions", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to transition issue %s to %s: %w", key, toStatus, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("failed to transition issue %s to %s: %w", key, toStatus, &TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)})
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("failed to transition issue %s to %s: %w", key, toStatus, &PermanentError{Err: fmt.Errorf("status %d", resp.StatusCode)})
	}
	return nil
}

type jiraTransitionsResponse struct {
	Transitions []struct {
		ID string `json:"id"`
		To struct {
			Name string `json:"name"`
		} `json:"to"`
	} `json:"transitions"`
}

func (c *HTTPClient) listTransitions(ctx context.Context, key string) (map[string]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rest/api/2/issue/"+url.PathEscape(key)+"/transitions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed jiraTransitionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode transitions for %s: %w", key, err)
	}
	out := make(map[string]string, len(parsed.Transitions))
	for _, t := range parsed.Transitions {
		out[t.To.Name] = t.ID
	}
	return out, nil
}

func (c *HTTPClient) PostComment(ctx context.Context, key, body string) error {
	slog.Debug("tracker: post comment", "key", key)
	payload, _ := json.Marshal(map[string]string{"body": body})
	resp, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(key)+"/comment", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to post comment on %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("failed to post comment on %s: %w", key, &TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)})
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("failed to post comment on %s: %w", key, &PermanentError{Err: fmt.Errorf("status %d", resp.StatusCode)})
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
