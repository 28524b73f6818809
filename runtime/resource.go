package runtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ResourceBuilder creates a resource of type T. Builders are configured with
// chained setters before they are handed to GetResource.
type ResourceBuilder[T any] interface {
	// Type names the kind of resource, like "postgres".
	Type() string
	// Config returns the builder's configuration. It is recorded by the
	// ResourceTracker as JSON, so it must not include secrets.
	Config() interface{}
	// Output creates the resource.
	Output(ctx context.Context, factory Factory) (T, error)
}

// TrackedResource is a resource that was provisioned by GetResource.
type TrackedResource struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// ResourceTracker records the resources that a loader provisions. It is safe
// for concurrent use.
type ResourceTracker struct {
	mu        sync.Mutex
	resources []TrackedResource
}

func NewResourceTracker() *ResourceTracker {
	return &ResourceTracker{}
}

func (t *ResourceTracker) track(r TrackedResource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources = append(t.resources, r)
}

// Resources returns the provisioned resources, in the order they were
// provisioned.
func (t *ResourceTracker) Resources() []TrackedResource {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]TrackedResource, len(t.resources))
	copy(res, t.resources)
	return res
}

// GetResource creates a resource with the given builder and records it with
// the tracker. The tracker may be nil.
func GetResource[T any](ctx context.Context, builder ResourceBuilder[T], factory Factory, tracker *ResourceTracker) (T, error) {
	var zero T
	kind := builder.Type()
	cfg, err := json.Marshal(builder.Config())
	if err != nil {
		return zero, errors.Wrapf(err, "could not encode %s config", kind)
	}
	out, err := builder.Output(ctx, factory)
	if err != nil {
		return zero, err
	}
	if tracker != nil {
		tracker.track(TrackedResource{Type: kind, Config: cfg})
	}
	zap.L().Debug("provisioned resource", zap.String("type", kind), zap.ByteString("config", cfg))
	return out, nil
}
