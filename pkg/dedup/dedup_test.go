package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vpnagg/aggregator/pkg/model"
	"github.com/vpnagg/aggregator/pkg/protocol"
)

func mustParse(t interface{ Fatalf(string, ...any) }, line string) *model.ConfigResult {
	r, err := protocol.Parse(line, "https://s.example/a.txt")
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	return r
}

func TestDeduplicateAcrossParamOrderAndFragment(t *testing.T) {
	d := New(Filters{}, 1000, 0.01)

	r1 := mustParse(t, "vless://u@h:443?security=tls&type=ws&path=/a#s1")
	r2 := mustParse(t, "vless://u@h:443?type=ws&security=tls&path=/a#s2")

	unique, stats := d.Deduplicate([]*model.ConfigResult{r1, r2})

	assert.Len(t, unique, 1)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestDeduplicatePreservesOrder(t *testing.T) {
	d := New(Filters{}, 1000, 0.01)

	a := mustParse(t, "trojan://pw@a.example:443#a")
	b := mustParse(t, "trojan://pw@b.example:443#b")
	c := mustParse(t, "trojan://pw@c.example:443#c")

	unique, _ := d.Deduplicate([]*model.ConfigResult{a, b, c})

	assert.Equal(t, []string{"a.example", "b.example", "c.example"}, []string{
		unique[0].Host, unique[1].Host, unique[2].Host,
	})
}

func TestDeduplicateTLSFragmentFilter(t *testing.T) {
	d := New(Filters{TLSFragment: "security=tls"}, 1000, 0.01)

	withTLS := mustParse(t, "vless://u@h:443?security=tls#a")
	withoutTLS := mustParse(t, "trojan://pw@h2.example:443#b")

	unique, _ := d.Deduplicate([]*model.ConfigResult{withTLS, withoutTLS})
	assert.Len(t, unique, 1)
	assert.Equal(t, "h", unique[0].Host)
}
