package wellid

import (
	"fmt"

	"github.com/banshee-data/flowplate/internal/gating"
	"github.com/banshee-data/flowplate/internal/monitoring"
)

// DefaultKeyword is the conventional metadata key carrying a well
// identity when the caller does not name one.
const DefaultKeyword = "$WELLID"

// strategy is one typed identity source. Strategies are tried in order;
// each either yields a canonical well or declines.
type strategy interface {
	name() string
	resolve(s *gating.Sample) (well string, src Source, ok bool)
}

type keywordStrategy struct{ key string }

func (k keywordStrategy) name() string { return fmt.Sprintf("keyword %q", k.key) }

func (k keywordStrategy) resolve(s *gating.Sample) (string, Source, bool) {
	value, ok := LookupFuzzy(s.Metadata, k.key)
	if !ok {
		return "", SourceKeyword, false
	}
	well, err := Canonicalize(value)
	if err != nil {
		return "", SourceKeyword, false
	}
	return well, SourceKeyword, true
}

type filenameStrategy struct{}

func (filenameStrategy) name() string { return "filename" }

func (filenameStrategy) resolve(s *gating.Sample) (string, Source, bool) {
	name := s.Filename
	if name == "" {
		name = s.ID
	}
	well, err := Canonicalize(name)
	if err != nil {
		return "", SourceFilename, false
	}
	return well, SourceFilename, true
}

// Resolver resolves plate positions for samples through an explicit
// ordered strategy chain: the configured keyword, the conventional
// default keyword, then the filename.
type Resolver struct {
	strategies []strategy
}

// NewResolver builds a resolver. keyword may be empty, in which case
// only the conventional key and the filename are consulted.
func NewResolver(keyword string) *Resolver {
	var chain []strategy
	if keyword != "" && NormalizeKey(keyword) != NormalizeKey(DefaultKeyword) {
		chain = append(chain, keywordStrategy{key: keyword})
	}
	chain = append(chain, keywordStrategy{key: DefaultKeyword}, filenameStrategy{})
	return &Resolver{strategies: chain}
}

// Resolve tries each strategy in order for one sample.
func (r *Resolver) Resolve(s *gating.Sample) (Assignment, error) {
	for _, st := range r.strategies {
		if well, src, ok := st.resolve(s); ok {
			return Assignment{SampleID: s.ID, Well: well, Source: src}, nil
		}
	}
	return Assignment{}, fmt.Errorf("sample %s: %w", s.ID, ErrUnresolved)
}

// ResolveAll resolves the entire sample set up front, before any
// extraction or reduction work. Zero resolutions fail the run with
// ErrNoWellIDsResolved; partial resolution excludes and reports the
// unresolved samples and the run continues with the rest.
func (r *Resolver) ResolveAll(samples []*gating.Sample) ([]Assignment, []Unresolved, error) {
	var (
		resolved   []Assignment
		unresolved []Unresolved
	)
	for _, s := range samples {
		a, err := r.Resolve(s)
		if err != nil {
			unresolved = append(unresolved, Unresolved{SampleID: s.ID, Reason: err.Error()})
			continue
		}
		resolved = append(resolved, a)
	}
	if len(samples) > 0 && len(resolved) == 0 {
		return nil, unresolved, ErrNoWellIDsResolved
	}
	for _, u := range unresolved {
		monitoring.Logf("wellid: excluding sample %s (%s)", u.SampleID, u.Reason)
	}
	return resolved, unresolved, nil
}
