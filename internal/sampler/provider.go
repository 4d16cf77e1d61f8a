// Package sampler runs the operator vessel's location loop: one position
// attempt per tick, never overlapping, published to the telemetry queue.
package sampler

import "context"

// Position is a raw fix from the location provider. Fields the provider
// cannot determine stay zero and are omitted from the published sample.
type Position struct {
	Latitude  float64
	Longitude float64
	Speed     float64
	Heading   float64
	Altitude  float64
	Accuracy  float64
}

// Provider yields the current position of the local vessel. Implementations
// must honor the context deadline; the sampler bounds every call.
type Provider interface {
	Current(ctx context.Context) (Position, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Position, error)

// Current implements Provider.
func (f ProviderFunc) Current(ctx context.Context) (Position, error) {
	return f(ctx)
}
