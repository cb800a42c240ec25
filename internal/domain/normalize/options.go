package normalize

import "github.com/okian/geoheat/internal/domain/model"

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithLayerMapping replaces the event type to layer mapping. Types missing
// from the mapping fall back to defaultLayer.
func WithLayerMapping(mapping map[string]string, defaultLayer string) Option {
	return func(n *Normalizer) {
		if len(mapping) > 0 {
			// Copy to avoid external modifications
			n.layers = make(map[string]model.Layer, len(mapping))
			for eventType, layer := range mapping {
				if layer != "" {
					n.layers[eventType] = model.Layer(layer)
				}
			}
		}
		if defaultLayer != "" {
			n.defaultLayer = model.Layer(defaultLayer)
		}
	}
}
