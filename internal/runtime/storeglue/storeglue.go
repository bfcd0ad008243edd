// Package storeglue wraps every runtime state transition with the
// corresponding durable store write, grounded on the source engine's
// inline entity_manager.update_entity(task_entity) call after every
// transition (original_source/.../runtime/engine.py).
package storeglue

import (
	"context"

	"github.com/cklxx/taskgraph/internal/domain"
	"github.com/cklxx/taskgraph/internal/store"
)

// PersistState writes a plain state transition, leaving result/error
// untouched.
func PersistState(ctx context.Context, st store.EntityStore, taskID int64, newState domain.TaskState) error {
	return st.UpdateTaskStatus(ctx, taskID, newState, nil, "", "")
}

// PersistCompletion writes the COMPLETED transition together with its
// result payload.
func PersistCompletion(ctx context.Context, st store.EntityStore, taskID int64, result map[string]any) error {
	return st.UpdateTaskStatus(ctx, taskID, domain.StateCompleted, result, "", "")
}

// PersistFailure writes the FAILED transition together with the error
// reason.
func PersistFailure(ctx context.Context, st store.EntityStore, taskID int64, reason string) error {
	return PersistFailureWithResult(ctx, st, taskID, reason, nil)
}

// PersistFailureWithResult writes the FAILED transition with both the error
// reason and a result payload — used by forced failures (Step "abort") that
// also carry a marker such as {"aborted": true}.
func PersistFailureWithResult(ctx context.Context, st store.EntityStore, taskID int64, reason string, result map[string]any) error {
	return st.UpdateTaskStatus(ctx, taskID, domain.StateFailed, result, "", reason)
}
