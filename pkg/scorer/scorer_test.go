package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/model"
)

func TestDefaultScorerRewardsSecureProtocol(t *testing.T) {
	d := Default{}
	secure, err := d.ScoreLine("vless://u@h:443?security=tls")
	require.NoError(t, err)

	insecure, err := d.ScoreLine("http://h:80")
	require.NoError(t, err)

	assert.Greater(t, secure, insecure)
}

func TestScoreSortsDescendingAndPreservesTieOrder(t *testing.T) {
	a := &model.ConfigResult{RawConfig: "trojan://pw@a.example:443#a"}
	b := &model.ConfigResult{RawConfig: "http://b.example:80"}
	c := &model.ConfigResult{RawConfig: "http://c.example:80"}

	sorted := Score(Default{}, []*model.ConfigResult{b, a, c})
	require.Len(t, sorted, 3)
	assert.Equal(t, a, sorted[0])
	assert.Equal(t, b, sorted[1])
	assert.Equal(t, c, sorted[2])
}
