package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierDefaultWeight(t *testing.T) {
	assert.Equal(t, 1.0, TierPremium.DefaultWeight())
	assert.Equal(t, 0.8, TierReliable.DefaultWeight())
	assert.Equal(t, 0.5, TierBulk.DefaultWeight())
	assert.Equal(t, 0.2, TierExperimental.DefaultWeight())
	assert.Equal(t, 0.5, Tier("bogus").DefaultWeight())
}

func TestNewSourceMetadataStartsNew(t *testing.T) {
	m := NewSourceMetadata("https://example.com/sub", TierReliable)
	assert.Equal(t, StateNew, m.State)
	assert.Equal(t, 0.8, m.Weight)
	assert.NotNil(t, m.Protocols)
}

func TestRecordCheckAdvancesNewToProbation(t *testing.T) {
	m := NewSourceMetadata("https://example.com/sub", TierBulk)
	now := time.Unix(0, 0)
	m.RecordCheck(true, now)
	assert.Equal(t, StateNew, m.State)
	m.RecordCheck(true, now)
	assert.Equal(t, StateProbation, m.State)
	assert.Equal(t, 2, m.SuccessCount)
	assert.Equal(t, 2, m.ConsecutiveOK)
}

func TestRecordCheckSuspendsAfterConsecutiveFailures(t *testing.T) {
	m := NewSourceMetadata("https://example.com/sub", TierBulk)
	now := time.Unix(0, 0)
	m.RecordCheck(true, now)
	m.RecordCheck(true, now)
	assert.Equal(t, StateProbation, m.State)

	m.RecordCheck(false, now)
	m.RecordCheck(false, now)
	m.RecordCheck(false, now)
	assert.Equal(t, StateSuspended, m.State)
	assert.Equal(t, 3, m.ConsecutiveFail)
}

func TestRecordCheckResumesFromSuspendedAfterConsecutiveSuccesses(t *testing.T) {
	m := NewSourceMetadata("https://example.com/sub", TierBulk)
	now := time.Unix(0, 0)
	m.RecordCheck(true, now)
	m.RecordCheck(true, now)
	for i := 0; i < 5; i++ {
		m.RecordCheck(false, now)
	}
	assert.Equal(t, StateSuspended, m.State)

	m.RecordCheck(true, now)
	m.RecordCheck(true, now)
	assert.Equal(t, StateProbation, m.State)
}

func TestRecordCheckBlacklistsAfterSustainedFailureRate(t *testing.T) {
	m := NewSourceMetadata("https://example.com/sub", TierBulk)
	now := time.Unix(0, 0)
	for i := 0; i < 11; i++ {
		m.RecordCheck(false, now)
	}
	assert.True(t, m.IsBlacklisted)
}

func TestRecordCheckCapsHistoryAtMaxEntries(t *testing.T) {
	m := NewSourceMetadata("https://example.com/sub", TierBulk)
	now := time.Unix(0, 0)
	for i := 0; i < maxHistory+10; i++ {
		m.RecordCheck(true, now)
	}
	assert.Len(t, m.History, maxHistory)
}

func TestProtocolTLSLike(t *testing.T) {
	assert.True(t, ProtocolVMess.TLSLike())
	assert.True(t, ProtocolVLess.TLSLike())
	assert.True(t, ProtocolTrojan.TLSLike())
	assert.True(t, ProtocolReality.TLSLike())
	assert.False(t, ProtocolShadowsocks.TLSLike())
	assert.False(t, ProtocolWireGuard.TLSLike())
}

func TestSemanticHashHexFormatsLowercaseHex(t *testing.T) {
	c := &ConfigResult{SemanticHash: [16]byte{0xde, 0xad, 0xbe, 0xef}}
	hex := c.SemanticHashHex()
	assert.Equal(t, "deadbeef000000000000000000000000", hex)
	assert.Len(t, hex, 32)
}
