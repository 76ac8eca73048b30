package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/dispatch"
	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewStore("bbolt", filepath.Join(t.TempDir(), "pipeline.db"), store.Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	file := filepath.Join(t.TempDir(), "channels.yaml")
	content := `
channels:
  - id: chan-a
    name: Channel A
    credential_ref: upload-a
    destination_url: https://upload.example.com/a
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("write channels file: %v", err)
	}
	reg, err := channels.LoadRegistry(file)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	return NewServer("127.0.0.1:0", st, reg, dispatch.NewCompletions(st, nil), nil), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitCandidate(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/channels/chan-a/candidates",
		map[string]string{"origin": "https://videos.example.com/watch/1", "title": "Clip"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Stage != domain.StageDiscovered || job.ChannelID != "chan-a" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Fingerprint == "" {
		t.Fatalf("server should fingerprint the origin")
	}

	// same origin again is a duplicate
	rec = doJSON(t, h, http.MethodPost, "/v1/channels/chan-a/candidates",
		map[string]string{"origin": "https://videos.example.com/watch/1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
}

func TestSubmitCandidateValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/channels/nope/candidates",
		map[string]string{"origin": "https://videos.example.com/watch/1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown channel, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/channels/chan-a/candidates",
		map[string]string{"origin": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty origin, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/chan-a/candidates",
		bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec2.Code)
	}
}

func TestGetAndListJobs(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Routes()

	job, err := st.Enqueue(domain.Candidate{Origin: "v1", Fingerprint: "fp-1"}, "chan-a")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/jobs/"+job.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs?channel=chan-a&stage=discovered", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listing struct {
		Jobs  []domain.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 1 || listing.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs?limit=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Routes()

	job, err := st.Enqueue(domain.Candidate{Origin: "v1", Fingerprint: "fp-1"}, "chan-a")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/missing/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPauseResume(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/channels/chan-a/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if paused, _ := st.Paused("chan-a"); !paused {
		t.Fatalf("channel should be paused")
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/channels/chan-a/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if paused, _ := st.Paused("chan-a"); paused {
		t.Fatalf("channel should be resumed")
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/channels/nope/pause", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown channel, got %d", rec.Code)
	}
}

func TestDispatchCallback(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Routes()

	job, err := st.Enqueue(domain.Candidate{Origin: "v1", Fingerprint: "fp-1"}, "chan-a")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	leased, err := st.Lease(store.LeaseRequest{ChannelID: "chan-a", Owner: "sched", TTL: time.Minute})
	if err != nil || leased == nil {
		t.Fatalf("Lease: job=%v err=%v", leased, err)
	}
	if err := st.BindDispatch(leased.ID, leased.Lease.Token, "run-1", dispatch.TargetRemote); err != nil {
		t.Fatalf("BindDispatch: %v", err)
	}

	comp := dispatch.Completion{
		DispatchID: "run-1",
		Status:     dispatch.StatusSucceeded,
		Artifacts:  map[string]string{domain.ArtifactSource: "/tmp/src.mp4"},
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/dispatch/callback", comp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := st.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != domain.StageAcquired {
		t.Fatalf("completion should advance the job, got %s", got.Stage)
	}

	// redelivery acks without re-applying
	rec = doJSON(t, h, http.MethodPost, "/v1/dispatch/callback", comp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rec.Code)
	}
	var resp struct {
		Applied bool `json:"applied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Applied {
		t.Fatalf("duplicate delivery must not re-apply")
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/dispatch/callback", dispatch.Completion{Status: "succeeded"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing dispatch_id, got %d", rec.Code)
	}
}
