package front

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/runtime/agentwrap"
	"github.com/cklxx/taskgraph/internal/runtime/engine"
	"github.com/cklxx/taskgraph/internal/runtime/events"
	"github.com/cklxx/taskgraph/internal/runtime/process"
	"github.com/cklxx/taskgraph/internal/store/memstore"
)

type stubInvoker struct{}

func (stubInvoker) Invoke(_ context.Context, task *domain.Task, _ int) (agentwrap.Result, error) {
	return agentwrap.Result{Content: "done", CompletionHint: true}, nil
}

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.SeedAgent(&domain.Agent{Name: "neutral_task", Instruction: "solve it"}, 1)
	ledger := events.New(st)
	settings := engine.DefaultSettings()
	settings.EventProcessingInterval = 10 * time.Millisecond
	settings.AutoTriggerEnabled = false
	eng := engine.New(st, ledger, stubInvoker{}, settings)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	srv := New(eng, st)
	eng.WithNotifier(srv.Broker())
	return srv, st
}

func TestSubmitTaskCreatesRoot(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(submitTaskRequest{Instruction: "investigate the outage"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp, "task_id")
}

func TestSubmitTaskRejectsEmptyInstruction(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/999", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListActiveReflectsNewTask(t *testing.T) {
	srv, st := newTestServer(t)

	id, err := srv.engine.CreateTask(context.Background(), "keep watch", nil, "neutral_task", process.SubtaskOptions{})
	require.NoError(t, err)
	require.NotZero(t, id)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/active", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, task.ID)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestStepSkipForcesCompletion(t *testing.T) {
	srv, st := newTestServer(t)

	id, err := srv.engine.CreateTask(context.Background(), "stuck task", nil, "neutral_task", process.SubtaskOptions{})
	require.NoError(t, err)

	body, _ := json.Marshal(stepRequest{Action: "skip"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+itoa(id)+"/step", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, task.State)
	require.Equal(t, true, task.Result["skipped"])
}

func TestStepAbortForcesFailure(t *testing.T) {
	srv, st := newTestServer(t)

	id, err := srv.engine.CreateTask(context.Background(), "stuck task", nil, "neutral_task", process.SubtaskOptions{})
	require.NoError(t, err)

	body, _ := json.Marshal(stepRequest{Action: "abort"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+itoa(id)+"/step", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	task, err := st.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, task.State)
	require.Equal(t, true, task.Result["aborted"])
}

func TestUpdateRuntimeSettingsEnablesGlobalManualStepping(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(updateRuntimeSettingsRequest{Scope: "global", ManualStepping: true})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
