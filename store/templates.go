package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/natsclient"
	"github.com/opsplane/opsplane/pkg/cache"
)

// Templates is a read-mostly lookup for catalog template definitions with a
// TTL cache on the read path. Template authoring happens elsewhere; this
// store only resolves pipelines for the dispatcher and factory.
type Templates struct {
	kv     *natsclient.KVStore
	cache  *cache.TTL[*model.Template]
	logger *slog.Logger
}

// NewTemplates creates a template store. The cache may be nil to disable
// caching (tests).
func NewTemplates(kv *natsclient.KVStore, c *cache.TTL[*model.Template], logger *slog.Logger) *Templates {
	return &Templates{kv: kv, cache: c, logger: logger}
}

// GetByName returns a template definition by name.
func (s *Templates) GetByName(ctx context.Context, name string) (*model.Template, error) {
	if s.cache != nil {
		if t, ok := s.cache.Get(name); ok {
			return t, nil
		}
	}

	entry, err := s.kv.Get(ctx, name)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrTemplateNotFound
		}
		return nil, errors.WrapTransient(err, "Templates", "GetByName", "read template "+name)
	}

	var t model.Template
	if err := json.Unmarshal(entry.Value, &t); err != nil {
		return nil, errors.WrapInvalid(err, "Templates", "GetByName", "decode template "+name)
	}

	if s.cache != nil {
		s.cache.Set(name, &t)
	}
	return &t, nil
}

// ResolvePipeline returns the ordered step declarations a template defines
// for an action, or ok=false when it declares none.
func (s *Templates) ResolvePipeline(ctx context.Context, templateName string, action model.Action) ([]model.PipelineStepDecl, bool, error) {
	t, err := s.GetByName(ctx, templateName)
	if err != nil {
		return nil, false, err
	}
	decls, ok := t.PipelineFor(action)
	return decls, ok, nil
}

// Put persists a template definition and invalidates the cache entry.
// Used by seeding tooling and tests.
func (s *Templates) Put(ctx context.Context, t *model.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.WrapInvalid(err, "Templates", "Put", "marshal template")
	}
	if _, err := s.kv.Put(ctx, t.Name, data); err != nil {
		return errors.WrapTransient(err, "Templates", "Put", "write template "+t.Name)
	}
	if s.cache != nil {
		s.cache.Delete(t.Name)
	}
	return nil
}
