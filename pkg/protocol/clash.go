package protocol

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/vpnagg/aggregator/pkg/model"
)

// ClashProxy is a best-effort expansion of a config line into a Clash/Meta
// proxy map. Unknown/malformed links yield (nil, false) instead of an error;
// callers simply omit the entry from the proxies list.
type ClashProxy map[string]any

// ToClashProxy converts a single config line into a Clash proxy record.
func ToClashProxy(line string, idx int) (ClashProxy, bool) {
	proto := Categorize(line)
	name := string(proto) + "-" + strconv.Itoa(idx)

	switch proto {
	case model.ProtocolVMess:
		return vmessClashProxy(line, name)
	case model.ProtocolVLess:
		return vlessClashProxy(line, name, false)
	case model.ProtocolReality:
		return vlessClashProxy(line, name, true)
	case model.ProtocolTrojan:
		return trojanClashProxy(line, name)
	case model.ProtocolShadowsocks:
		return shadowsocksClashProxy(line, name)
	default:
		return nil, false
	}
}

func vmessClashProxy(line, fallbackName string) (ClashProxy, bool) {
	ep, err := extractVMessEndpoint(line)
	if err != nil {
		return nil, false
	}
	name := ep.Params["ps"]
	if name == "" {
		name = fallbackName
	}
	proxy := ClashProxy{
		"name":    name,
		"type":    "vmess",
		"server":  ep.Host,
		"port":    ep.Port,
		"uuid":    firstNonEmpty(ep.Params["id"], ep.Params["uuid"]),
		"alterId": atoiOr(ep.Params["aid"], 0),
		"cipher":  "auto",
	}
	if ep.Params["tls"] != "" || ep.Params["security"] != "" {
		proxy["tls"] = true
	}
	net := firstNonEmpty(ep.Params["net"], ep.Params["type"])
	if net == "ws" || net == "grpc" {
		proxy["network"] = net
		if net == "ws" {
			wsOpts := ClashProxy{}
			if p := ep.Params["path"]; p != "" {
				wsOpts["path"] = p
			}
			if h := ep.Params["host"]; h != "" {
				wsOpts["headers"] = map[string]string{"Host": h}
			}
			proxy["ws-opts"] = wsOpts
		}
	}
	for _, key := range []string{"sni", "alpn", "fp", "flow", "serviceName"} {
		if v := ep.Params[key]; v != "" {
			proxy[key] = v
		}
	}
	return proxy, true
}

func vlessClashProxy(line, fallbackName string, reality bool) (ClashProxy, bool) {
	u, err := url.Parse(line)
	if err != nil {
		return nil, false
	}
	q := u.Query()
	name := u.Fragment
	if name == "" {
		name = fallbackName
	}
	port, _ := strconv.Atoi(u.Port())
	proxy := ClashProxy{
		"name":       name,
		"type":       "vless",
		"server":     u.Hostname(),
		"port":       port,
		"uuid":       u.User.Username(),
		"encryption": firstQuery(q, "encryption", "none"),
	}
	if reality || q.Get("security") != "" {
		proxy["tls"] = true
	}
	if net := firstOf(q, "type", "mode"); net != "" {
		proxy["network"] = net
	}
	for _, key := range []string{"host", "path", "sni", "alpn", "fp", "flow", "serviceName"} {
		if v := q.Get(key); v != "" {
			proxy[key] = v
		}
	}

	pbk := firstOf(q, "pbk", "public-key", "publicKey", "public_key", "publickey")
	sid := firstOf(q, "sid", "short-id", "shortId", "short_id", "shortid")
	spider := firstOf(q, "spiderX", "spider-x", "spider_x")
	realityOpts := ClashProxy{}
	if pbk != "" {
		proxy["pbk"] = pbk
		realityOpts["public-key"] = pbk
	}
	if sid != "" {
		proxy["sid"] = sid
		realityOpts["short-id"] = sid
	}
	if spider != "" {
		proxy["spiderX"] = spider
		realityOpts["spider-x"] = spider
	}
	if len(realityOpts) > 0 {
		proxy["reality-opts"] = realityOpts
	}
	return proxy, true
}

func trojanClashProxy(line, fallbackName string) (ClashProxy, bool) {
	u, err := url.Parse(line)
	if err != nil {
		return nil, false
	}
	q := u.Query()
	name := u.Fragment
	if name == "" {
		name = fallbackName
	}
	port, _ := strconv.Atoi(u.Port())
	proxy := ClashProxy{
		"name":     name,
		"type":     "trojan",
		"server":   u.Hostname(),
		"port":     port,
		"password": u.User.Username(),
	}
	if q.Get("security") != "" {
		proxy["tls"] = true
	}
	if net := firstOf(q, "type", "mode"); net != "" {
		proxy["network"] = net
	}
	for _, key := range []string{"host", "path", "sni", "alpn", "flow", "serviceName"} {
		if v := q.Get(key); v != "" {
			proxy[key] = v
		}
	}
	return proxy, true
}

func shadowsocksClashProxy(line, fallbackName string) (ClashProxy, bool) {
	u, err := url.Parse(line)
	if err != nil {
		return nil, false
	}
	name := u.Fragment
	if name == "" {
		name = fallbackName
	}
	port, _ := strconv.Atoi(u.Port())
	cipher, password := u.User.Username(), ""
	if pw, ok := u.User.Password(); ok {
		password = pw
	} else if raw, decErr := decodeFlexibleBase64(u.User.Username()); decErr == nil {
		if parts := strings.SplitN(string(raw), ":", 2); len(parts) == 2 {
			cipher, password = parts[0], parts[1]
		}
	}
	return ClashProxy{
		"name":     name,
		"type":     "ss",
		"server":   u.Hostname(),
		"port":     port,
		"cipher":   cipher,
		"password": password,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstQuery(q url.Values, key, fallback string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return fallback
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
