package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mvanek/agentswarm/internal/adapter/inproc"
	"github.com/mvanek/agentswarm/internal/adapter/jsonfile"
	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/session"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/resilience"
	"github.com/mvanek/agentswarm/internal/service"
)

// nopCache satisfies the cache port without storing anything.
type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nopCache) Delete(context.Context, string) error { return nil }

// newTestServer wires the full stack against a completer-less fleet, so
// agents fall back to their default proposals and no network is involved.
func newTestServer(t *testing.T) (*httptest.Server, *Handlers) {
	t.Helper()

	b := inproc.New(32)
	t.Cleanup(func() { b.Close() })

	know, err := jsonfile.NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	project := jsonfile.NewContextProvider(t.TempDir())

	def := config.Defaults()
	fleet := agent.NewFleet(nil)
	dev := service.NewDeviationService(def.Deviation, nil)
	eval := service.NewEvaluatorService(project, nopCache{}, def.Evaluator, time.Hour)
	ref := service.NewRefinementService(fleet, eval, dev, know, def.Refinement)

	bcfg := def.Brainstorm
	bcfg.SessionTimeout = 5 * time.Second
	bs := service.NewBrainstormService(fleet, dev, eval, ref, project, know, b, nil, bcfg)

	h := &Handlers{
		Queue:      service.NewQueueService(b, time.Hour),
		Brainstorm: bs,
		Bus:        b,
		Breaker:    resilience.NewBreaker(1, time.Minute),
	}
	srv := httptest.NewServer(NewRouter(h, def.Server))
	t.Cleanup(srv.Close)
	return srv, h
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"

	resp := do(t, http.MethodPost, base+"/tasks", task.CreateRequest{
		Type:        task.TypeFeature,
		Priority:    task.PriorityHigh,
		Description: "Add cursor pagination to the listing endpoint",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	qt := decode[service.QueuedTask](t, resp)
	if qt.Task == nil || qt.Task.ID == "" {
		t.Fatalf("created task %+v", qt)
	}

	resp = do(t, http.MethodGet, base+"/tasks/"+qt.Task.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	got := decode[service.QueuedTask](t, resp)
	if got.Task.Status != task.StatusPending {
		t.Fatalf("status %q, want pending", got.Task.Status)
	}

	resp = do(t, http.MethodPost, base+"/tasks/"+qt.Task.ID+"/cancel", cancelRequest{Reason: "not needed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}

	// Cancelling a terminal task is a conflict, not a repeatable action.
	resp = do(t, http.MethodPost, base+"/tasks/"+qt.Task.ID+"/cancel", cancelRequest{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status %d, want 409", resp.StatusCode)
	}
}

func TestGetUnknownTaskIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tasks/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestCreateTaskRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestSessionFanOutOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"

	resp := do(t, http.MethodPost, base+"/sessions", startSessionRequest{
		Type:        task.TypeFeature,
		Priority:    task.PriorityHigh,
		Description: "Implement pagination for the listing endpoint with cursor tokens and stable ordering",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status %d", resp.StatusCode)
	}
	sess := decode[session.Session](t, resp)
	if sess.ID == "" {
		t.Fatalf("session %+v", sess)
	}

	// The fan-out runs past the 202; poll until it settles.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = do(t, http.MethodGet, base+"/sessions/"+sess.ID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("poll status %d", resp.StatusCode)
		}
		sess = decode[session.Session](t, resp)
		if sess.Status == session.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session stuck in %q", sess.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sess.Solutions) != len(agent.AllSpecializations) {
		t.Fatalf("solutions %d, want one per agent", len(sess.Solutions))
	}

	resp = do(t, http.MethodGet, base+"/sessions/"+sess.ID+"/solutions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("consolidate status %d", resp.StatusCode)
	}
	if ranked := decode[[]service.RankedSolution](t, resp); len(ranked) == 0 {
		t.Fatal("no ranked solutions")
	}

	resp = do(t, http.MethodPost, base+"/sessions/"+sess.ID+"/refine", nil)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		t.Fatalf("refine status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, base+"/sessions/"+sess.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel finished session status %d, want 409", resp.StatusCode)
	}
}

func TestHealthzReflectsBreakerState(t *testing.T) {
	srv, h := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/health", nil)
	hr := decode[healthResponse](t, resp)
	if hr.Status != "ok" {
		t.Fatalf("status %q", hr.Status)
	}

	_ = h.Breaker.Execute(func() error { return errors.New("proxy down") })

	resp = do(t, http.MethodGet, srv.URL+"/health", nil)
	hr = decode[healthResponse](t, resp)
	if hr.Status != "degraded" || !hr.BreakerOpen {
		t.Fatalf("degraded state not reported: %+v", hr)
	}
}

func TestCORSPreflight(t *testing.T) {
	b := inproc.New(4)
	t.Cleanup(func() { b.Close() })
	h := &Handlers{Queue: service.NewQueueService(b, time.Hour)}

	cfg := config.Defaults().Server
	cfg.CORSOrigin = "http://localhost:3000"
	srv := httptest.NewServer(NewRouter(h, cfg))
	t.Cleanup(srv.Close)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/tasks", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin %q", got)
	}
}
