package batch

import (
	"sort"
	"strings"

	"github.com/banshee-data/flowplate/internal/gating"
	"github.com/banshee-data/flowplate/internal/wellid"
)

// FilterCriterion selects samples whose metadata value for Key equals
// Value after trimming. Key matching uses the same fuzzy normalization
// as well resolution, so "Sample Type" and "SAMPLETYPE" name the same
// entry.
type FilterCriterion struct {
	Key   string
	Value string
}

// FilterEngine selects sample subsets by metadata criteria.
type FilterEngine struct{}

// Filter returns the samples matching the criterion, preserving input
// order. An empty result is not an error here; the orchestrator
// records it and continues.
func (FilterEngine) Filter(samples []*gating.Sample, c FilterCriterion) []*gating.Sample {
	want := strings.TrimSpace(c.Value)
	var out []*gating.Sample
	for _, s := range samples {
		v, ok := wellid.LookupFuzzy(s.Metadata, c.Key)
		if !ok {
			continue
		}
		if strings.TrimSpace(v) == want {
			out = append(out, s)
		}
	}
	return out
}

// Values enumerates the distinct trimmed values the samples carry for
// a metadata key, sorted. This is how a batch axis is discovered when
// the caller does not list values explicitly.
func (FilterEngine) Values(samples []*gating.Sample, key string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range samples {
		v, ok := wellid.LookupFuzzy(s.Metadata, key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
