// Package dedup performs semantic deduplication of parsed configs,
// accelerated by a Bloom filter over an authoritative hash set, applying the
// same filter pipeline order as the original aggregator: TLS-fragment
// substring match, include/exclude protocol sets, include/exclude country
// sets, include/exclude regex lists, then hash-set membership.
package dedup

import (
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/vpnagg/aggregator/pkg/model"
)

const (
	defaultCapacity = 1_000_000
	defaultFPR      = 0.01
)

// Filters configures the pre-hash filter pipeline. All fields are optional;
// a nil/empty set or list disables that stage.
type Filters struct {
	TLSFragment      string
	IncludeProtocols mapset.Set[string]
	ExcludeProtocols mapset.Set[string]
	IncludeCountries mapset.Set[string]
	ExcludeCountries mapset.Set[string]
	IncludeRegexes   []*regexp.Regexp
	ExcludeRegexes   []*regexp.Regexp
}

// Deduplicator filters and deduplicates a slice of ConfigResult, preserving
// stable insertion order in its output.
type Deduplicator struct {
	filters Filters
	bloom   *bloomFilter
	seen    map[[16]byte]struct{}
}

// New builds a Deduplicator sized for an expected capacity and target false
// positive rate; zero values fall back to the documented defaults (1M, 1%).
func New(filters Filters, expectedCapacity int, targetFPR float64) *Deduplicator {
	if expectedCapacity <= 0 {
		expectedCapacity = defaultCapacity
	}
	if targetFPR <= 0 {
		targetFPR = defaultFPR
	}
	return &Deduplicator{
		filters: filters,
		bloom:   newBloomFilter(expectedCapacity, targetFPR),
		seen:    make(map[[16]byte]struct{}),
	}
}

// Stats summarizes one Deduplicate call.
type Stats struct {
	Input      int
	Output     int
	Duplicates int
}

// Deduplicate applies the filter pipeline then the semantic hash set,
// returning the unique survivors in their original order.
func (d *Deduplicator) Deduplicate(results []*model.ConfigResult) ([]*model.ConfigResult, Stats) {
	unique := make([]*model.ConfigResult, 0, len(results))

	for _, r := range results {
		if !d.passesFilters(r) {
			continue
		}
		if d.bloom.MaybeContains(r.SemanticHash) {
			if _, ok := d.seen[r.SemanticHash]; ok {
				continue
			}
		}
		d.bloom.Add(r.SemanticHash)
		d.seen[r.SemanticHash] = struct{}{}
		unique = append(unique, r)
	}

	return unique, Stats{
		Input:      len(results),
		Output:     len(unique),
		Duplicates: len(results) - len(unique),
	}
}

func (d *Deduplicator) passesFilters(r *model.ConfigResult) bool {
	text := strings.ToLower(r.RawConfig)

	if d.filters.TLSFragment != "" && !strings.Contains(text, strings.ToLower(d.filters.TLSFragment)) {
		return false
	}

	proto := strings.ToUpper(string(r.Protocol))
	if d.filters.IncludeProtocols != nil && d.filters.IncludeProtocols.Cardinality() > 0 &&
		!d.filters.IncludeProtocols.ContainsOne(proto) {
		return false
	}
	if d.filters.ExcludeProtocols != nil && d.filters.ExcludeProtocols.ContainsOne(proto) {
		return false
	}

	if country, ok := r.Metadata["country"]; ok && country != "" {
		upper := strings.ToUpper(country)
		if d.filters.IncludeCountries != nil && d.filters.IncludeCountries.Cardinality() > 0 &&
			!d.filters.IncludeCountries.ContainsOne(upper) {
			return false
		}
		if d.filters.ExcludeCountries != nil && d.filters.ExcludeCountries.ContainsOne(upper) {
			return false
		}
	}

	if len(d.filters.ExcludeRegexes) > 0 {
		for _, re := range d.filters.ExcludeRegexes {
			if re.MatchString(text) {
				return false
			}
		}
	}
	if len(d.filters.IncludeRegexes) > 0 {
		matched := false
		for _, re := range d.filters.IncludeRegexes {
			if re.MatchString(text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}
