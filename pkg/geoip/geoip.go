// Package geoip resolves a host to an ISO country code via an optional
// local MaxMind GeoLite2 database. Enrichment is opportunistic: an
// unconfigured database, an unresolvable host, or a record miss are not
// errors, they just leave a ConfigResult's country metadata unset.
package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

// Lookup resolves hostnames to ISO country codes via a MaxMind database.
type Lookup struct {
	db *geoip2.Reader
}

// Open opens the MaxMind database at path. Callers should only call Open
// when a database path is actually configured.
func Open(path string) (*Lookup, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "opening GeoIP database", err)
	}
	return &Lookup{db: db}, nil
}

// Close releases the underlying database file.
func (l *Lookup) Close() error {
	return l.db.Close()
}

// Country resolves host — an IP literal or a hostname, which is resolved
// via DNS first — to its ISO country code.
func (l *Lookup) Country(host string) (string, bool) {
	if host == "" {
		return "", false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return "", false
		}
		ip = addrs[0]
	}

	record, err := l.db.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}
