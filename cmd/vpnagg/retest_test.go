package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeLinesPlainText(t *testing.T) {
	raw := []byte("vless://u@h.example:443?security=tls&type=ws&path=/a#s1\ntrojan://pw@h2.example:443#tag\n")
	lines := decodeLines(raw)
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "vless://")
}

func TestDecodeLinesBase64(t *testing.T) {
	encoded := []byte("dmxlc3M6Ly91QGguZXhhbXBsZTo0NDM/c2VjdXJpdHk9dGxzJnR5cGU9d3MmcGF0aD0vYSNzMQp0cm9qYW46Ly9wd0BoMi5leGFtcGxlOjQ0MyN0YWc=")

	lines := decodeLines(encoded)
	assert.Equal(t, []string{
		"vless://u@h.example:443?security=tls&type=ws&path=/a#s1",
		"trojan://pw@h2.example:443#tag",
	}, lines)
}

func TestLooksLikeBase64(t *testing.T) {
	assert.False(t, looksLikeBase64([]byte("vless://host:443")))
	assert.True(t, looksLikeBase64([]byte("dGVzdA==")))
	assert.False(t, looksLikeBase64([]byte("")))
}
