package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the remote workflow runner's view of a run.
type RunStatus struct {
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
}

// Gateway wraps the two external job-execution capabilities: the
// remote workflow runner (start, status, cancel by run id) and the
// tunnel endpoint fronting a locally-hosted job (stop by
// account-derived URL). Every call carries a bounded timeout.
type Gateway interface {
	StartRemoteRun(ctx context.Context, accountID uuid.UUID, jobSlot int) (runID string, err error)
	GetRemoteRunStatus(ctx context.Context, runID string) (RunStatus, error)
	CancelRemoteRun(ctx context.Context, runID string) (ok bool, statusCode int, err error)
	StopTunnelJob(ctx context.Context, accountID uuid.UUID, jobSlot int) (ok bool, statusCode int, err error)
}

// HTTPGateway talks to the runner's REST API with a bearer token and
// to the tunnel endpoint derived from a URL template.
type HTTPGateway struct {
	client *http.Client

	runnerBaseURL string
	runnerToken   string

	// tunnelURLTemplate receives the account id and job slot, e.g.
	// "https://%s-job%d.tunnel.example.net/shutdown".
	tunnelURLTemplate string
}

// NewHTTPGateway creates a gateway with the given per-call timeout.
func NewHTTPGateway(runnerBaseURL, runnerToken, tunnelURLTemplate string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		client:            &http.Client{Timeout: timeout},
		runnerBaseURL:     runnerBaseURL,
		runnerToken:       runnerToken,
		tunnelURLTemplate: tunnelURLTemplate,
	}
}

type startRunRequest struct {
	AccountID string `json:"account_id"`
	JobSlot   int    `json:"job_slot"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

// StartRemoteRun dispatches a workflow run for the account's job slot.
func (g *HTTPGateway) StartRemoteRun(ctx context.Context, accountID uuid.UUID, jobSlot int) (string, error) {
	body, err := json.Marshal(startRunRequest{AccountID: accountID.String(), JobSlot: jobSlot})
	if err != nil {
		return "", err
	}

	req, err := g.runnerRequest(ctx, http.MethodPost, "/runs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("runner dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("runner dispatch returned status %d", resp.StatusCode)
	}

	var out startRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode runner response: %w", err)
	}
	if out.RunID == "" {
		return "", fmt.Errorf("runner dispatch returned no run id")
	}

	return out.RunID, nil
}

// GetRemoteRunStatus queries the runner for a run's status.
func (g *HTTPGateway) GetRemoteRunStatus(ctx context.Context, runID string) (RunStatus, error) {
	req, err := g.runnerRequest(ctx, http.MethodGet, "/runs/"+runID, nil)
	if err != nil {
		return RunStatus{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return RunStatus{}, fmt.Errorf("runner status query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RunStatus{}, fmt.Errorf("runner status query returned status %d", resp.StatusCode)
	}

	var st RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return RunStatus{}, fmt.Errorf("failed to decode run status: %w", err)
	}

	return st, nil
}

// CancelRemoteRun asks the runner to cancel a run. A non-2xx answer
// is reported through ok/statusCode, not as an error; err is reserved
// for transport failures.
func (g *HTTPGateway) CancelRemoteRun(ctx context.Context, runID string) (bool, int, error) {
	req, err := g.runnerRequest(ctx, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	if err != nil {
		return false, 0, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("runner cancel failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return ok, resp.StatusCode, nil
}

// StopTunnelJob posts to the tunnel endpoint derived deterministically
// from the account identity and job slot.
func (g *HTTPGateway) StopTunnelJob(ctx context.Context, accountID uuid.UUID, jobSlot int) (bool, int, error) {
	stopURL := fmt.Sprintf(g.tunnelURLTemplate, accountID.String(), jobSlot)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stopURL, nil)
	if err != nil {
		return false, 0, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("tunnel stop failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return ok, resp.StatusCode, nil
}

func (g *HTTPGateway) runnerRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.runnerBaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.runnerToken)
	return req, nil
}
