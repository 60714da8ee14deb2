package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/kv"
)

// Key prefixes in the backing store.
const (
	sessionKeyPrefix = "sessions/"
	taskKeyPrefix    = "tasks/"
)

// Store persists session snapshots and task records in a key-value
// backend. Operations are atomic per key; concurrent writes to the
// same key are last-writer-wins. Read-modify-write cycles are
// serialized per context by the workflow driver, not here.
type Store struct {
	kv kv.Store
}

// NewStore wraps a key-value backend.
func NewStore(kvStore kv.Store) *Store {
	return &Store{kv: kvStore}
}

// Get loads the snapshot for a context. A miss returns nil without an
// error; the caller starts a fresh conversation.
func (s *Store) Get(ctx context.Context, contextID string) (*Snapshot, error) {
	data, err := s.kv.Get(ctx, sessionKeyPrefix+contextID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", contextID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("session %s: corrupt snapshot: %w", contextID, err)
	}
	return &snap, nil
}

// Put writes the snapshot with the given lifetime. Zero ttl keeps it
// until deleted.
func (s *Store) Put(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	if snap.ContextID == "" {
		return fmt.Errorf("snapshot has no context id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session %s: %w", snap.ContextID, err)
	}
	if err := s.kv.Set(ctx, sessionKeyPrefix+snap.ContextID, data, ttl); err != nil {
		return fmt.Errorf("session %s: %w", snap.ContextID, err)
	}
	return nil
}

// Delete removes a session. Deleting a missing session is not an
// error.
func (s *Store) Delete(ctx context.Context, contextID string) error {
	if err := s.kv.Delete(ctx, sessionKeyPrefix+contextID); err != nil {
		return fmt.Errorf("session %s: %w", contextID, err)
	}
	return nil
}

// GetTask loads a task record. A miss returns nil without an error.
func (s *Store) GetTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	data, err := s.kv.Get(ctx, taskKeyPrefix+taskID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}

	var task a2a.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("task %s: corrupt snapshot: %w", taskID, err)
	}
	return &task, nil
}

// PutTask writes a task record with the given lifetime.
func (s *Store) PutTask(ctx context.Context, task *a2a.Task, ttl time.Duration) error {
	if task.ID == "" {
		return fmt.Errorf("task has no id")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}
	if err := s.kv.Set(ctx, taskKeyPrefix+task.ID, data, ttl); err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}
	return nil
}

// DeleteTask removes a task record.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.kv.Delete(ctx, taskKeyPrefix+taskID); err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	return nil
}
