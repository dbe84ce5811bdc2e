package discovery

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

const telegramChannelPrefix = "https://t.me/"

var subscriptionURLRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// ChannelSource is a Telegram channel whose exported message history is
// scanned for subscription links. There is no live MTProto client here:
// callers point ChannelFile at a plain-text export of channel messages
// (one message per line, or a raw dump), not a live channel handle.
type ChannelSource struct {
	Name        string
	ChannelFile string
}

// LoadChannelList reads a newline-delimited channel list file, stripping
// the https://t.me/ prefix if present, one non-empty line per channel.
func LoadChannelList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.New(xerrors.KindIO, "opening telegram channel list", err)
	}
	defer f.Close()

	var channels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		channels = append(channels, strings.TrimPrefix(line, telegramChannelPrefix))
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.New(xerrors.KindIO, "scanning telegram channel list", err)
	}
	return channels, nil
}

// ExtractSubscriptionURLs scans free-form message text for bare http(s)
// URLs, mirroring the original tool's extract_subscription_urls regex scan.
// Every distinct http(s) URL is returned; no check is made that it points
// at a subscription.
func ExtractSubscriptionURLs(text string) []string {
	matches := subscriptionURLRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ScrapeChannelFile reads an exported message text file and returns every
// distinct http(s) URL it finds, one Discovered candidate per URL. A
// missing file yields no candidates and no error. The file is read whole: exports are expected to be small enough to
// fit comfortably in memory (a single channel's recent history).
func ScrapeChannelFile(channelName, path string) ([]Discovered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.New(xerrors.KindIO, "reading telegram channel export", err)
	}

	urls := ExtractSubscriptionURLs(string(data))
	out := make([]Discovered, 0, len(urls))
	for _, u := range urls {
		out = append(out, Discovered{URL: u, Method: MethodTelegram, RepoFullName: channelName})
	}
	return out, nil
}

// ScrapeChannels scrapes every channel in the list, silently skipping any
// channel whose export file is missing. Any other read error stops the scan
// and is returned together with the candidates found so far.
func ScrapeChannels(channels []ChannelSource) ([]Discovered, error) {
	var all []Discovered
	for _, ch := range channels {
		found, err := ScrapeChannelFile(ch.Name, ch.ChannelFile)
		if err != nil {
			return all, err
		}
		all = append(all, found...)
	}
	return all, nil
}
