package discovery

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

type seedDoc struct {
	Sources map[string]seedTierGroup `yaml:"sources"`
}

type seedTierGroup struct {
	URLs []string `yaml:"urls"`
}

// LoadSeedList reads the static seed list at discovery.seed_list_path — a
// curated, hand-maintained tiered map[tier]->{urls} document, deliberately
// separate from the live source store's sources.yaml under output.dir (which
// pkg/source/store rewrites on every validation/blacklist/whitelist call).
// The two files share a shape because the store seeds its initial state from
// documents exactly like this one, but they are not the same file and are
// not kept in sync: editing the seed list only changes what the next
// discovery stage considers, never the store's persisted FSM state.
func LoadSeedList(path string) ([]Discovered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.New(xerrors.KindIO, "reading seed source list", err)
	}

	var doc seedDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.New(xerrors.KindConfig, "parsing seed source list", err)
	}

	var out []Discovered
	for tier, group := range doc.Sources {
		for _, u := range group.URLs {
			out = append(out, Discovered{URL: u, Method: MethodSeed, RepoFullName: tier})
		}
	}
	return out, nil
}
