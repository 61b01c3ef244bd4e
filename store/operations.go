package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/natsclient"
)

// Key prefixes within the operations bucket. The index keys map a resource
// id to the operation ids that reference it, maintained with CAS so
// concurrent creates never drop entries.
const (
	opKeyPrefix       = "op."
	resourceIdxPrefix = "idx.resource."
)

// Operations is the durable store for operation documents.
type Operations struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// NewOperations creates an operation store over the given KV bucket.
func NewOperations(kv *natsclient.KVStore, logger *slog.Logger) *Operations {
	return &Operations{kv: kv, logger: logger}
}

// Create persists a freshly built operation. One document write, plus the
// resource index entry.
func (s *Operations) Create(ctx context.Context, op *model.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return errors.WrapInvalid(err, "Operations", "Create", "marshal operation")
	}

	if _, err := s.kv.Create(ctx, opKeyPrefix+op.ID, data); err != nil {
		return errors.WrapTransient(err, "Operations", "Create", "write operation "+op.ID)
	}

	if err := s.indexResource(ctx, op.ResourceID, op.ID); err != nil {
		return err
	}

	s.logger.Debug("Operation created", "operation_id", op.ID, "resource_id", op.ResourceID,
		"action", op.Action, "steps", len(op.Steps))
	return nil
}

// GetByID returns a single operation document.
func (s *Operations) GetByID(ctx context.Context, id string) (*model.Operation, error) {
	entry, err := s.kv.Get(ctx, opKeyPrefix+id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrOperationNotFound
		}
		return nil, errors.WrapTransient(err, "Operations", "GetByID", "read operation "+id)
	}

	var op model.Operation
	if err := json.Unmarshal(entry.Value, &op); err != nil {
		return nil, errors.WrapInvalid(err, "Operations", "GetByID", "decode operation "+id)
	}
	return &op, nil
}

// GetByResourceID returns all operations recorded against a resource.
func (s *Operations) GetByResourceID(ctx context.Context, resourceID string) ([]*model.Operation, error) {
	ids, err := s.resourceIndex(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	ops := make([]*model.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := s.GetByID(ctx, id)
		if err != nil {
			if stderrors.Is(err, errors.ErrOperationNotFound) {
				// Index ahead of a deleted/unwritten doc; skip
				continue
			}
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// GetByStatus returns all operations currently in the given aggregate status.
func (s *Operations) GetByStatus(ctx context.Context, status model.Status) ([]*model.Operation, error) {
	keys, err := s.kv.Keys(ctx, opKeyPrefix+"*")
	if err != nil {
		return nil, errors.WrapTransient(err, "Operations", "GetByStatus", "list operations")
	}

	var ops []*model.Operation
	for _, key := range keys {
		op, err := s.GetByID(ctx, key[len(opKeyPrefix):])
		if err != nil {
			return nil, err
		}
		if op.Status == status {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// Update persists the full operation document. Session affinity guarantees a
// single logical writer per in-flight operation, so this is a plain put.
func (s *Operations) Update(ctx context.Context, op *model.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return errors.WrapInvalid(err, "Operations", "Update", "marshal operation")
	}

	if _, err := s.kv.Put(ctx, opKeyPrefix+op.ID, data); err != nil {
		return errors.WrapTransient(err, "Operations", "Update", "write operation "+op.ID)
	}
	return nil
}

// UpdateStatus sets the aggregate status/message on an operation and
// persists it.
func (s *Operations) UpdateStatus(ctx context.Context, id string, status model.Status, message string) (*model.Operation, error) {
	op, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	op.Status = status
	op.Message = message
	op.UpdatedWhen = time.Now().UTC()

	if err := s.Update(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// HasSucceededDeployment reports whether the resource has at least one
// operation that reached the deployed status.
func (s *Operations) HasSucceededDeployment(ctx context.Context, resourceID string) (bool, error) {
	ops, err := s.GetByResourceID(ctx, resourceID)
	if err != nil {
		return false, err
	}
	for _, op := range ops {
		if op.Status == model.StatusDeployed {
			return true, nil
		}
	}
	return false, nil
}

// indexResource appends the operation id to the resource's index entry.
func (s *Operations) indexResource(ctx context.Context, resourceID, operationID string) error {
	err := s.kv.UpdateWithRetry(ctx, resourceIdxPrefix+resourceID, func(current []byte) ([]byte, error) {
		var ids []string
		if len(current) > 0 {
			if err := json.Unmarshal(current, &ids); err != nil {
				return nil, err
			}
		}
		for _, id := range ids {
			if id == operationID {
				return json.Marshal(ids)
			}
		}
		return json.Marshal(append(ids, operationID))
	})
	if err != nil {
		return errors.WrapTransient(err, "Operations", "indexResource", "update index for "+resourceID)
	}
	return nil
}

// resourceIndex reads the operation ids recorded for a resource.
func (s *Operations) resourceIndex(ctx context.Context, resourceID string) ([]string, error) {
	entry, err := s.kv.Get(ctx, resourceIdxPrefix+resourceID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "Operations", "resourceIndex", "read index for "+resourceID)
	}

	var ids []string
	if err := json.Unmarshal(entry.Value, &ids); err != nil {
		return nil, errors.WrapInvalid(err, "Operations", "resourceIndex", "decode index for "+resourceID)
	}
	return ids, nil
}
