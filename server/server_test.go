package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/bus"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/task"
)

func newTestServer(t *testing.T) (*Server, *task.Registry) {
	t.Helper()

	factory := func(req task.CreateRequest, b *bus.Bus) (*agent.Agent, error) {
		llm := model.NewScriptedModel().
			AddToolCallResponse("done", model.TokenUsage{InputTokens: 1, CompletionTokens: 1},
				core.NewToolCall("c1", "terminate", `{"status":"success"}`))
		return agent.New(req.ID, llm, func(o *agent.Options) { o.Bus = b }), nil
	}

	registry := task.New(factory)
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	return New(registry), registry
}

func createTask(t *testing.T, srv *Server, prompt string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])

	return resp["task_id"]
}

// waitTerminal drains the registry subscription so the task is guaranteed
// terminal before the HTTP assertions run.
func waitTerminal(t *testing.T, registry *task.Registry, taskID string) {
	t.Helper()

	ch, err := registry.Subscribe(context.Background(), taskID)
	require.NoError(t, err)
	for range ch {
	}
}

func TestServer_CreateTask(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createTask(t, srv, "do the thing")
	assert.NotEmpty(t, id)
}

func TestServer_CreateTaskRejectsBadPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"prompt":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetTask(t *testing.T) {
	srv, registry := newTestServer(t)

	id := createTask(t, srv, "do the thing")
	waitTerminal(t, registry, id)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.History)
}

func TestServer_GetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TerminateTask(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createTask(t, srv, "do the thing")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/terminate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/missing/terminate", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TaskEventStream(t *testing.T) {
	srv, registry := newTestServer(t)

	id := createTask(t, srv, "do the thing")
	waitTerminal(t, registry, id)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id+"/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	// Every data line is a JSON event; the first is the lifecycle start.
	var names []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev core.EventItem
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		names = append(names, ev.Name)
	}
	require.NotEmpty(t, names)
	assert.Equal(t, core.EventLifecycleStart, names[0])
	assert.Contains(t, names, core.EventLifecycleComplete)
}

func TestServer_TaskEventStreamNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/missing/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
