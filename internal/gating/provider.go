package gating

import "io"

// Provider is the workspace/sample-data collaborator boundary. The real
// workspace parser lives outside this module; the pipeline only consumes
// this interface.
//
// EventsForGate returns the raw-unit event table for the population
// identified by pathKey (a "/"-joined full gate path). The empty pathKey
// means the ungated population. Implementations may fall back to the
// ungated table when they do not carry per-gate subsets.
type Provider interface {
	// SampleIDs lists every loaded sample, in workspace order.
	SampleIDs() []string

	// Sample returns the metadata, filename and shared gate tree for one
	// sample.
	Sample(id string) (*Sample, error)

	// EventsForGate returns the raw event table for a gate population.
	EventsForGate(id, pathKey string) (*EventTable, error)

	// Document opens the underlying workspace document for direct
	// access. Needed when the generic gate model is incomplete (quadrant
	// dividers). The caller closes the reader.
	Document() (io.ReadCloser, error)
}

// PathKey joins a full gate path into the canonical Provider lookup key.
func PathKey(path []string) string {
	key := ""
	for i, p := range path {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	return key
}
