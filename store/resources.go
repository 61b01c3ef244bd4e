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

// Resources is the store for resource documents, including the
// deploymentStatus mirror and the worker-output property merge.
type Resources struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// NewResources creates a resource store over the given KV bucket.
func NewResources(kv *natsclient.KVStore, logger *slog.Logger) *Resources {
	return &Resources{kv: kv, logger: logger}
}

// GetByID returns a single resource document.
func (s *Resources) GetByID(ctx context.Context, id string) (*model.Resource, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrResourceNotFound
		}
		return nil, errors.WrapTransient(err, "Resources", "GetByID", "read resource "+id)
	}

	var res model.Resource
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		return nil, errors.WrapInvalid(err, "Resources", "GetByID", "decode resource "+id)
	}
	return &res, nil
}

// GetPropertiesByID returns only the resource's property set.
func (s *Resources) GetPropertiesByID(ctx context.Context, id string) (map[string]any, error) {
	res, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return res.Properties, nil
}

// Create persists a new resource document.
func (s *Resources) Create(ctx context.Context, res *model.Resource) error {
	data, err := json.Marshal(res)
	if err != nil {
		return errors.WrapInvalid(err, "Resources", "Create", "marshal resource")
	}
	if _, err := s.kv.Create(ctx, res.ID, data); err != nil {
		return errors.WrapTransient(err, "Resources", "Create", "write resource "+res.ID)
	}
	return nil
}

// Update persists the full resource document.
func (s *Resources) Update(ctx context.Context, res *model.Resource) error {
	data, err := json.Marshal(res)
	if err != nil {
		return errors.WrapInvalid(err, "Resources", "Update", "marshal resource")
	}
	if _, err := s.kv.Put(ctx, res.ID, data); err != nil {
		return errors.WrapTransient(err, "Resources", "Update", "write resource "+res.ID)
	}
	return nil
}

// SetDeploymentStatus sets the status mirror on the resource document with a
// CAS read-modify-write, leaving every other field untouched.
func (s *Resources) SetDeploymentStatus(ctx context.Context, id string, status model.Status) error {
	err := s.kv.UpdateJSON(ctx, id, func(current map[string]any) error {
		if len(current) == 0 {
			return errors.ErrResourceNotFound
		}
		current["deploymentStatus"] = string(status)
		current["updatedWhen"] = time.Now().UTC().Format(time.RFC3339Nano)
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrResourceNotFound) {
			return errors.ErrResourceNotFound
		}
		return errors.WrapTransient(err, "Resources", "SetDeploymentStatus", "mirror status on "+id)
	}

	s.logger.Debug("Resource status mirror updated", "resource_id", id, "status", status)
	return nil
}

// MergeProperties merges worker-reported outputs into the resource's
// property set, overwriting existing keys.
func (s *Resources) MergeProperties(ctx context.Context, id string, props map[string]any) error {
	if len(props) == 0 {
		return nil
	}

	err := s.kv.UpdateJSON(ctx, id, func(current map[string]any) error {
		if len(current) == 0 {
			return errors.ErrResourceNotFound
		}
		existing, _ := current["properties"].(map[string]any)
		if existing == nil {
			existing = make(map[string]any, len(props))
		}
		for k, v := range props {
			existing[k] = v
		}
		current["properties"] = existing
		current["updatedWhen"] = time.Now().UTC().Format(time.RFC3339Nano)
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrResourceNotFound) {
			return errors.ErrResourceNotFound
		}
		return errors.WrapTransient(err, "Resources", "MergeProperties", "merge outputs into "+id)
	}
	return nil
}
