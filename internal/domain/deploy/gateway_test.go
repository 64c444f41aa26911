package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHTTPGateway_StartRemoteRun(t *testing.T) {
	accountID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer runner-secret" {
			t.Errorf("Authorization = %q", got)
		}
		var body startRunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if body.AccountID != accountID.String() || body.JobSlot != 3 {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(startRunResponse{RunID: "run-42"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "runner-secret", "", 5*time.Second)
	runID, err := g.StartRemoteRun(context.Background(), accountID, 3)
	if err != nil {
		t.Fatalf("StartRemoteRun() unexpected error: %v", err)
	}
	if runID != "run-42" {
		t.Errorf("runID = %q, want run-42", runID)
	}
}

func TestHTTPGateway_StartRemoteRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"missing run id", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(startRunResponse{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			g := NewHTTPGateway(srv.URL, "tok", "", 5*time.Second)
			if _, err := g.StartRemoteRun(context.Background(), uuid.New(), 1); err == nil {
				t.Errorf("StartRemoteRun() expected an error")
			}
		})
	}
}

func TestHTTPGateway_GetRemoteRunStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/run-42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(RunStatus{Status: "completed", Conclusion: "success"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "tok", "", 5*time.Second)
	st, err := g.GetRemoteRunStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("GetRemoteRunStatus() unexpected error: %v", err)
	}
	if st.Status != "completed" || st.Conclusion != "success" {
		t.Errorf("status = %+v", st)
	}
}

func TestHTTPGateway_CancelRemoteRun(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs/run-42/cancel" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "tok", "", 5*time.Second)

	status = http.StatusAccepted
	ok, code, err := g.CancelRemoteRun(context.Background(), "run-42")
	if err != nil || !ok || code != http.StatusAccepted {
		t.Errorf("CancelRemoteRun() = %v, %d, %v", ok, code, err)
	}

	// A rejection is not a transport error.
	status = http.StatusConflict
	ok, code, err = g.CancelRemoteRun(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("CancelRemoteRun() unexpected error: %v", err)
	}
	if ok || code != http.StatusConflict {
		t.Errorf("CancelRemoteRun() = %v, %d, want false, 409", ok, code)
	}
}

func TestHTTPGateway_StopTunnelJob(t *testing.T) {
	accountID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := fmt.Sprintf("/stop/%s/2", accountID.String())
		if r.Method != http.MethodPost || r.URL.Path != want {
			t.Errorf("unexpected request: %s %s, want POST %s", r.Method, r.URL.Path, want)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewHTTPGateway("", "", srv.URL+"/stop/%s/%d", 5*time.Second)
	ok, code, err := g.StopTunnelJob(context.Background(), accountID, 2)
	if err != nil || !ok || code != http.StatusOK {
		t.Errorf("StopTunnelJob() = %v, %d, %v", ok, code, err)
	}
}

func TestHTTPGateway_StopTunnelJob_Unreachable(t *testing.T) {
	// A closed server: transport error, not a status.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := NewHTTPGateway("", "", srv.URL+"/stop/%s/%d", time.Second)
	ok, _, err := g.StopTunnelJob(context.Background(), uuid.New(), 1)
	if err == nil {
		t.Fatalf("StopTunnelJob() expected a transport error")
	}
	if ok {
		t.Errorf("StopTunnelJob() ok must be false on transport failure")
	}
}
