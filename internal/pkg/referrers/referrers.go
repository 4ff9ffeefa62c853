// Package referrers turns referrer hostnames and search engine ids into
// display names.
package referrers

import (
	"sort"
	"strings"
)

// Channel is the traffic class a known referrer belongs to.
type Channel string

const (
	ChannelSearch   Channel = "search"
	ChannelSocial   Channel = "social"
	ChannelReferral Channel = "referral"
	ChannelEmail    Channel = "email"
)

type knownReferrer struct {
	Name    string
	Channel Channel
}

var knownReferrers = map[string]knownReferrer{
	// Search engines
	"google.com":     {"Google", ChannelSearch},
	"google.co.uk":   {"Google", ChannelSearch},
	"google.de":      {"Google", ChannelSearch},
	"google.fr":      {"Google", ChannelSearch},
	"google.es":      {"Google", ChannelSearch},
	"google.it":      {"Google", ChannelSearch},
	"google.ca":      {"Google", ChannelSearch},
	"google.com.au":  {"Google", ChannelSearch},
	"google.co.jp":   {"Google", ChannelSearch},
	"google.com.br":  {"Google", ChannelSearch},
	"bing.com":       {"Bing", ChannelSearch},
	"duckduckgo.com": {"DuckDuckGo", ChannelSearch},
	"yahoo.com":      {"Yahoo", ChannelSearch},
	"baidu.com":      {"Baidu", ChannelSearch},
	"yandex.ru":      {"Yandex", ChannelSearch},
	"ecosia.org":     {"Ecosia", ChannelSearch},
	"kagi.com":       {"Kagi", ChannelSearch},
	"naver.com":      {"Naver", ChannelSearch},

	// Social media
	"x.com":           {"X/Twitter", ChannelSocial},
	"twitter.com":     {"X/Twitter", ChannelSocial},
	"t.co":            {"X/Twitter", ChannelSocial},
	"facebook.com":    {"Facebook", ChannelSocial},
	"fb.com":          {"Facebook", ChannelSocial},
	"instagram.com":   {"Instagram", ChannelSocial},
	"linkedin.com":    {"LinkedIn", ChannelSocial},
	"lnkd.in":         {"LinkedIn", ChannelSocial},
	"tiktok.com":      {"TikTok", ChannelSocial},
	"pinterest.com":   {"Pinterest", ChannelSocial},
	"reddit.com":      {"Reddit", ChannelSocial},
	"threads.net":     {"Threads", ChannelSocial},
	"bsky.app":        {"Bluesky", ChannelSocial},
	"mastodon.social": {"Mastodon", ChannelSocial},
	"youtube.com":     {"YouTube", ChannelSocial},
	"youtu.be":        {"YouTube", ChannelSocial},

	// Communities and press
	"news.ycombinator.com": {"Hacker News", ChannelReferral},
	"producthunt.com":      {"Product Hunt", ChannelReferral},
	"medium.com":           {"Medium", ChannelReferral},
	"github.com":           {"GitHub", ChannelReferral},
	"stackoverflow.com":    {"Stack Overflow", ChannelReferral},
	"wordpress.org":        {"WordPress.org", ChannelReferral},
	"theguardian.com":      {"The Guardian", ChannelReferral},
	"bbc.co.uk":            {"BBC", ChannelReferral},
	"nytimes.com":          {"NY Times", ChannelReferral},

	// Email providers
	"mail.google.com":    {"Gmail", ChannelEmail},
	"outlook.live.com":   {"Outlook", ChannelEmail},
	"outlook.office.com": {"Outlook", ChannelEmail},
	"mail.yahoo.com":     {"Yahoo Mail", ChannelEmail},
	"mail.proton.me":     {"Proton Mail", ChannelEmail},
}

// searchEngines maps the engine id stored on a session ("google", "bing")
// to its display name.
var searchEngines = buildSearchEngines()

func buildSearchEngines() map[string]string {
	engines := make(map[string]string)
	for domain, ref := range knownReferrers {
		if ref.Channel != ChannelSearch {
			continue
		}
		id := strings.SplitN(domain, ".", 2)[0]
		engines[id] = ref.Name
	}
	return engines
}

// longest suffix first so "mail.google.com" wins over "google.com"
var suffixOrder = buildSuffixOrder()

func buildSuffixOrder() []string {
	domains := make([]string, 0, len(knownReferrers))
	for domain := range knownReferrers {
		domains = append(domains, domain)
	}
	sort.Slice(domains, func(i, j int) bool {
		if len(domains[i]) != len(domains[j]) {
			return len(domains[i]) > len(domains[j])
		}
		return domains[i] < domains[j]
	})
	return domains
}

func lookup(hostname string) (knownReferrer, string, bool) {
	hostname = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hostname)), "www.")

	if ref, ok := knownReferrers[hostname]; ok {
		return ref, hostname, true
	}
	for _, domain := range suffixOrder {
		if strings.HasSuffix(hostname, "."+domain) {
			return knownReferrers[domain], hostname, true
		}
	}
	return knownReferrer{}, hostname, false
}

// FriendlyName returns a human-friendly name for a referrer hostname.
// Unknown hostnames come back without "www." and with the first letter
// capitalized.
func FriendlyName(hostname string) string {
	ref, normalized, ok := lookup(hostname)
	if ok {
		return ref.Name
	}
	return capitalizeFirst(normalized)
}

// ChannelOf reports the channel of a known referrer hostname.
func ChannelOf(hostname string) (Channel, bool) {
	ref, _, ok := lookup(hostname)
	if !ok {
		return "", false
	}
	return ref.Channel, true
}

// SearchEngineName returns the display name of a search engine id.
func SearchEngineName(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if name, ok := searchEngines[id]; ok {
		return name
	}
	return capitalizeFirst(id)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
