// Package null implements a provider whose resources exist only in
// state. Useful for wiring dependencies and for testing the engine
// without touching real infrastructure.
package null

import (
	"context"
	"fmt"

	"github.com/reef-io/reef/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Schema declares null_resource with a single force-new "triggers"
// argument: changing triggers replaces the resource, which is the whole
// point of it.
func (p *Provider) Schema(resourceType string) (*provider.Schema, error) {
	switch resourceType {
	case "null_resource":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"triggers": {ForceNew: true},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported resource type %q", resourceType)
	}
}

func (p *Provider) Create(ctx context.Context, resourceType, name string, args map[string]any) (string, map[string]any, error) {
	if _, err := p.Schema(resourceType); err != nil {
		return "", nil, err
	}
	id := fmt.Sprintf("null-%s", name)
	attrs := map[string]any{"id": id}
	if triggers, ok := args["triggers"]; ok {
		attrs["triggers"] = triggers
	}
	return id, attrs, nil
}

func (p *Provider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	if _, err := p.Schema(resourceType); err != nil {
		return nil, err
	}
	// Null resources have no remote side; they exist as long as state
	// says they do.
	return map[string]any{"id": id}, nil
}

func (p *Provider) Update(ctx context.Context, resourceType, id string, args map[string]any) (map[string]any, error) {
	// Every argument is force-new, so the engine never routes an update
	// here.
	return nil, fmt.Errorf("null provider does not support in-place updates")
}

func (p *Provider) Delete(ctx context.Context, resourceType, id string) error {
	if _, err := p.Schema(resourceType); err != nil {
		return err
	}
	return nil
}
