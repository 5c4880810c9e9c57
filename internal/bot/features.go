// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"log/slog"
	"sync"
)

// FeatureState describes the runtime availability of an optional capability.
type FeatureState string

const (
	// FeatureEnabled: configured on and its dependencies are healthy.
	FeatureEnabled FeatureState = "enabled"
	// FeatureDisabled: switched off by configuration.
	FeatureDisabled FeatureState = "disabled"
	// FeatureUnavailable: configured on but a hard dependency is missing.
	FeatureUnavailable FeatureState = "unavailable"
	// FeatureDegraded: working, but a soft dependency failed at runtime.
	FeatureDegraded FeatureState = "degraded"
)

// Feature names used by the orchestrator.
const (
	FeatureDocumentSelection = "document_selection"
	FeatureRetrieval         = "retrieval"
)

// FeatureRegistry tracks the availability of optional capabilities so the
// orchestrator can pick a degraded path instead of failing a request.
// Safe for concurrent use.
type FeatureRegistry struct {
	mu       sync.RWMutex
	features map[string]FeatureState
}

// NewFeatureRegistry returns an empty registry.
func NewFeatureRegistry() *FeatureRegistry {
	return &FeatureRegistry{features: make(map[string]FeatureState)}
}

// Register records the state of a feature, replacing any previous state.
func (r *FeatureRegistry) Register(name string, state FeatureState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.features[name]; ok && prev != state {
		slog.Info("feature state changed", "feature", name, "from", prev, "to", state)
	}
	r.features[name] = state
}

// Status returns the recorded state of a feature. Unregistered features
// report FeatureDisabled.
func (r *FeatureRegistry) Status(name string) FeatureState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.features[name]
	if !ok {
		return FeatureDisabled
	}
	return state
}

// IsAvailable reports whether the feature can serve requests right now
// (enabled or degraded).
func (r *FeatureRegistry) IsAvailable(name string) bool {
	state := r.Status(name)
	return state == FeatureEnabled || state == FeatureDegraded
}

// Snapshot returns a copy of all recorded feature states.
func (r *FeatureRegistry) Snapshot() map[string]FeatureState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]FeatureState, len(r.features))
	for name, state := range r.features {
		out[name] = state
	}
	return out
}
