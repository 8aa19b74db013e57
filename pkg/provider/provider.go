// Package provider defines the capability contract a resource provider
// implements: CRUD operations plus a per-type schema declaring which
// arguments can change in place and which force replacement.
package provider

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the backing resource no longer
// exists. Providers must return it (possibly wrapped) rather than a
// generic error so the caller can distinguish drift from failure.
var ErrNotFound = errors.New("resource not found")

// Provider performs create/read/update/delete against a backing system.
// One Provider instance serves all resource types it declares schemas for;
// the resource's type string selects behavior.
type Provider interface {
	// Schema describes a resource type's arguments and replacement
	// semantics. It must be total: every argument the differ may see for
	// this type has an entry.
	Schema(resourceType string) (*Schema, error)

	// Create materializes a new resource and returns its generated
	// identifier along with the full attribute set.
	Create(ctx context.Context, resourceType, name string, args map[string]any) (id string, attrs map[string]any, err error)

	// Read fetches the current attributes of an existing resource, or
	// ErrNotFound if it no longer exists.
	Read(ctx context.Context, resourceType, id string) (map[string]any, error)

	// Update changes a resource in place and returns the new attributes.
	// It is only called for arguments the schema marks updatable.
	Update(ctx context.Context, resourceType, id string, args map[string]any) (map[string]any, error)

	// Delete destroys the resource. Deleting an already-absent resource
	// is not an error.
	Delete(ctx context.Context, resourceType, id string) error
}

// Schema declares the update policy for one resource type.
type Schema struct {
	// Arguments maps argument name to its per-field policy.
	Arguments map[string]ArgumentSchema

	// CreateBeforeDestroy orders a replacement as create-then-delete
	// instead of the default delete-then-create.
	CreateBeforeDestroy bool
}

// ArgumentSchema is the per-argument update policy.
type ArgumentSchema struct {
	// ForceNew marks an argument whose change cannot be applied in
	// place; any change to it forces replacement of the whole resource.
	ForceNew bool
}

// ForcesReplacement reports whether a change to the named argument
// requires replacing the resource.
func (s *Schema) ForcesReplacement(arg string) (forces, known bool) {
	as, ok := s.Arguments[arg]
	if !ok {
		return false, false
	}
	return as.ForceNew, true
}
