// Package artifacts provides the durable, write-once artifact store.
// Artifacts are the system of record for a task's lifecycle: queue messages
// are transient, artifacts are not. Writes are conditional-on-absence; a
// duplicate write with identical content is a no-op and a conflicting write
// is an error, which is what makes redelivered work idempotent.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tollgate-labs/tollgate/pkg/canonicalize"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

var (
	// ErrNotFound is returned by Get when no artifact exists for the key.
	ErrNotFound = errors.New("artifact not found")

	// ErrConflict is returned by Put when an artifact already exists for
	// the key with different content. This always indicates a protocol
	// violation upstream: the same (task, stage) produced two outcomes.
	ErrConflict = errors.New("artifact content conflict")
)

// Key addresses one artifact: the outcome of one stage for one task.
type Key struct {
	TaskID string
	Stage  contracts.Stage
}

// ObjectPath renders the store layout key, e.g. "eval/{task_id}.json".
func (k Key) ObjectPath() string {
	return strings.ToLower(k.Stage.String()) + "/" + k.TaskID + ".json"
}

// EvalKey, ApprovalKey and ExecKey build the three artifact keys for a task.
func EvalKey(taskID string) Key     { return Key{TaskID: taskID, Stage: contracts.StageEval} }
func ApprovalKey(taskID string) Key { return Key{TaskID: taskID, Stage: contracts.StageApproval} }
func ExecKey(taskID string) Key     { return Key{TaskID: taskID, Stage: contracts.StageExec} }

// Store is the write-once keyed artifact store contract.
//
// Put persists v under key if and only if no artifact exists there yet.
// If one exists with byte-identical canonical content, Put returns nil.
// If one exists with different content, Put returns ErrConflict.
// Reads are strongly consistent with the writer's own prior Put.
type Store interface {
	Put(ctx context.Context, key Key, v any) error
	Get(ctx context.Context, key Key, dst any) error
	Exists(ctx context.Context, key Key) (bool, error)
}

// encode renders v as canonical JSON so that equal values always produce
// identical stored bytes, making content comparison a byte comparison.
func encode(v any) ([]byte, error) {
	data, err := canonicalize.JCS(v)
	if err != nil {
		return nil, fmt.Errorf("artifact encode: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("artifact decode: %w", err)
	}
	return nil
}

// sameContent compares stored bytes against a candidate write.
func sameContent(existing, candidate []byte) bool {
	return canonicalize.HashBytes(existing) == canonicalize.HashBytes(candidate)
}
