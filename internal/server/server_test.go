package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitelens/intel-cli/internal/intel"
	"github.com/sitelens/intel-cli/internal/jobs"
	"github.com/sitelens/intel-cli/internal/model"
)

// stubRunner lets tests control the pipeline from the outside: it hands the
// received request to the test and blocks until release is closed.
type stubRunner struct {
	requests chan intel.Request
	release  chan struct{}
	result   *model.AnalysisResult
	err      error
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		requests: make(chan intel.Request, 1),
		release:  make(chan struct{}),
		result:   &model.AnalysisResult{OrganizationID: "org-1", SnapshotID: "snap-1"},
	}
}

func (r *stubRunner) Run(ctx context.Context, req intel.Request) (*model.AnalysisResult, error) {
	r.requests <- req
	<-r.release
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func newTestServer(t *testing.T, runner Runner) (*httptest.Server, jobs.Store) {
	t.Helper()
	store := jobs.NewMemory()
	srv := New(context.Background(), runner, store)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postAnalyze(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/analyze", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, newStubRunner())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestAnalyze_Accepted(t *testing.T) {
	runner := newStubRunner()
	ts, store := newTestServer(t, runner)

	resp := postAnalyze(t, ts, `{"url":"https://acme.test","session_id":"sess-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	jobID := body["job_id"]
	require.NotEmpty(t, jobID)

	// The run starts in the background and receives the submitted request.
	var req intel.Request
	select {
	case req = <-runner.requests:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not invoked")
	}
	assert.Equal(t, "https://acme.test", req.URL)
	assert.Equal(t, "sess-1", req.Owner.SessionID)

	close(runner.release)

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), jobID)
		return err == nil && job != nil && job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	job, err := store.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Result)
	assert.Equal(t, "org-1", job.Result.OrganizationID)
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t, newStubRunner())

	for name, body := range map[string]string{
		"no url":      `{"session_id":"sess-1"}`,
		"no owner":    `{"url":"https://acme.test"}`,
		"both owners": `{"url":"https://acme.test","session_id":"s","user_id":"u"}`,
		"not json":    `{{{`,
	} {
		resp := postAnalyze(t, ts, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		resp.Body.Close()
	}
}

func TestGetJob_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, newStubRunner())

	resp, err := http.Get(ts.URL + "/api/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel_FlagsJobAndRunHonorsIt(t *testing.T) {
	runner := newStubRunner()
	runner.err = intel.ErrCancelled
	ts, store := newTestServer(t, runner)

	resp := postAnalyze(t, ts, `{"url":"https://acme.test","session_id":"sess-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decodeBody(t, resp)["job_id"]

	req := <-runner.requests

	cancelResp, err := http.Post(ts.URL+"/api/jobs/"+jobID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
	cancelResp.Body.Close()

	// The probe handed to the runner sees the flag.
	cancelled, err := req.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, cancelled)

	close(runner.release)

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), jobID)
		return err == nil && job != nil && job.Status == jobs.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancel_CompletedJobIsNoop(t *testing.T) {
	runner := newStubRunner()
	ts, store := newTestServer(t, runner)

	resp := postAnalyze(t, ts, `{"url":"https://acme.test","session_id":"sess-1"}`)
	jobID := decodeBody(t, resp)["job_id"]
	<-runner.requests
	close(runner.release)

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), jobID)
		return err == nil && job != nil && job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancelResp, err := http.Post(ts.URL+"/api/jobs/"+jobID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, cancelResp.StatusCode)
	assert.Equal(t, string(jobs.StatusCompleted), decodeBody(t, cancelResp)["status"])

	flagged, err := store.IsCancelRequested(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestEvents_StreamsPipelineEvents(t *testing.T) {
	runner := newStubRunner()
	ts, _ := newTestServer(t, runner)

	resp := postAnalyze(t, ts, `{"url":"https://acme.test","session_id":"sess-1"}`)
	jobID := decodeBody(t, resp)["job_id"]
	req := <-runner.requests

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/jobs/" + jobID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() wsMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	// Snapshot arrives first.
	assert.Equal(t, "job", readMessage().Type)

	// Events emitted by the run are relayed in order.
	req.Sinks.Progress(model.ProgressUpdate{Stage: 0, Label: "Scraping", Percent: 10})
	assert.Equal(t, "progress", readMessage().Type)

	req.Sinks.Partial(model.PartialResult{Segment: model.SegmentAnalysis})
	assert.Equal(t, "partial", readMessage().Type)

	req.Sinks.Narrative(model.NarrativeEvent{Type: model.NarrativeTextChunk, Text: "Acme "})
	msg := readMessage()
	assert.Equal(t, "narrative", msg.Type)

	close(runner.release)
	assert.Equal(t, "result", readMessage().Type)
}

func TestEvents_UnknownJob(t *testing.T) {
	ts, _ := newTestServer(t, newStubRunner())

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/jobs/nope/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	runner := newStubRunner()
	ts, _ := newTestServer(t, runner)

	resp := postAnalyze(t, ts, `{"url":"https://acme.test","session_id":"sess-1"}`)
	jobID := decodeBody(t, resp)["job_id"]
	<-runner.requests

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/jobs/" + jobID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()
	close(runner.release)
}
