package geoip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountryEmptyHostReturnsFalseWithoutTouchingDB(t *testing.T) {
	var l Lookup
	code, ok := l.Country("")
	assert.False(t, ok)
	assert.Equal(t, "", code)
}

func TestOpenMissingDatabaseReturnsError(t *testing.T) {
	_, err := Open("/nonexistent/GeoLite2-Country.mmdb")
	assert.Error(t, err)
}
