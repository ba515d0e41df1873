package ports

import "github.com/aretw0/scenesync/pkg/domain"

// Visual is the rendering layer. Update is called after a batch of mutations.
type Visual interface {
	Update()
}

// NopVisual does nothing.
type NopVisual struct{}

func (NopVisual) Update() {}

// ShapeFactory is the geometry kernel seen from the core: it validates (and
// builds, on its side) the shape behind a geometry entity.
type ShapeFactory interface {
	Build(entityID string, params domain.CustomProps) error
}
