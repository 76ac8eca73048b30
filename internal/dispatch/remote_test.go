package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

func TestRemoteDispatchSubmitsAndReturnsPending(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(submitResponse{RunID: "run-99"})
	}))
	defer srv.Close()

	d := NewRemoteDispatcher(srv.URL, "secret")
	job := &domain.Job{ID: "j1", Candidate: domain.Candidate{Origin: "https://videos.example.com/v1"}}
	ch := channels.Channel{ID: "chan-a", Transform: &channels.TransformConfig{Preset: "mirror"}}

	res, err := d.Dispatch(context.Background(), domain.ActivityAcquire, job, ch)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Pending || res.DispatchID != "run-99" || res.Target != TargetRemote {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.JobID != "j1" || got.Activity != string(domain.ActivityAcquire) || got.Preset != "mirror" {
		t.Fatalf("unexpected submit payload %+v", got)
	}
}

func TestRemoteDispatchRejectsMissingRunID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := NewRemoteDispatcher(srv.URL, "")
	if _, err := d.Dispatch(context.Background(), domain.ActivityAcquire, &domain.Job{}, channels.Channel{}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
}

func TestRemoteDispatchSurfacesRunnerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewRemoteDispatcher(srv.URL, "")
	if _, err := d.Dispatch(context.Background(), domain.ActivityAcquire, &domain.Job{}, channels.Channel{}); err == nil {
		t.Fatalf("expected error for runner failure")
	}
}

func TestPollerResolvesOnlyOutstandingDispatches(t *testing.T) {
	st := newTestStore(t)

	if _, err := st.Enqueue(domain.Candidate{Origin: "v1", Fingerprint: "fp-v1"}, "chan-a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := st.Enqueue(domain.Candidate{Origin: "v2", Fingerprint: "fp-v2"}, "chan-a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	bound, err := st.Lease(store.LeaseRequest{ChannelID: "chan-a", Owner: "exec", TTL: time.Minute})
	if err != nil || bound == nil {
		t.Fatalf("Lease: job=%v err=%v", bound, err)
	}
	if err := st.BindDispatch(bound.ID, bound.Lease.Token, "run-5", TargetRemote); err != nil {
		t.Fatalf("BindDispatch: %v", err)
	}
	// second job stays leased in process, no runner involvement
	if _, err := st.Lease(store.LeaseRequest{ChannelID: "chan-a", Owner: "exec", TTL: time.Minute}); err != nil {
		t.Fatalf("Lease: %v", err)
	}

	var fetched []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = append(fetched, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Completion{
			Status:    StatusSucceeded,
			Artifacts: map[string]string{domain.ArtifactSource: "/a/src.mp4"},
		})
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, "secret", time.Second, st, NewCompletions(st, nil), nil)
	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if len(fetched) != 1 || fetched[0] != "/v1/runs/run-5" {
		t.Fatalf("expected a single status fetch for run-5, got %v", fetched)
	}
	resolved, err := st.Get(bound.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Stage != domain.StageAcquired {
		t.Fatalf("expected acquired after resolution, got %s", resolved.Stage)
	}
	if resolved.DispatchID != "" {
		t.Fatalf("resolution must clear the dispatch binding")
	}
}
