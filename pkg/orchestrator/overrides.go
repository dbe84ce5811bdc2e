package orchestrator

import (
	"github.com/mitchellh/mapstructure"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

// decodeOverrides turns a caller-supplied map (CLI flags already collected
// into a map, or an API request body) into a typed Overrides value.
func decodeOverrides(raw map[string]any) (Overrides, error) {
	var o Overrides
	if raw == nil {
		return o, nil
	}
	if err := mapstructure.Decode(raw, &o); err != nil {
		return o, xerrors.New(xerrors.KindConfig, "decoding run overrides", err)
	}
	return o, nil
}
