// Package featureflags evaluates the engagement engine's FEATURE_FLAGS
// setting, e.g. "share_recount=on" or "share_recount=25%".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// ShareRecount makes a recorded share trigger an authoritative recount of the
// post's shares instead of a blind +1 on the cached value.
const ShareRecount = "share_recount"

// Known lists the flags the engine reads.
var Known = []string{ShareRecount}

// rule is one parsed flag value. percent is 0..100; on/off map to 100/0.
type rule struct {
	percent int
}

// Manager holds the parsed flags. A nil Manager reports every flag off.
type Manager struct {
	rules   map[string]rule
	invalid []string
}

// NewManager parses a comma-separated name=value list. Values are on/true/1,
// off/false/0 or a viewer rollout percentage like 25%. Malformed entries are
// skipped and reported by Invalid.
func NewManager(raw string) *Manager {
	m := &Manager{rules: make(map[string]rule)}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = normalize(name)
		r, valid := parseRule(normalize(value))
		if !ok || name == "" || !valid {
			m.invalid = append(m.invalid, pair)
			continue
		}
		m.rules[name] = r
	}

	return m
}

func parseRule(value string) (rule, bool) {
	switch value {
	case "on", "true", "1":
		return rule{percent: 100}, true
	case "off", "false", "0":
		return rule{percent: 0}, true
	}
	pct, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, false
	}
	n, err := strconv.Atoi(pct)
	if err != nil {
		return rule{}, false
	}
	return rule{percent: min(max(n, 0), 100)}, true
}

// Enabled reports whether name is on for viewerID. Partial rollouts are
// deterministic per viewer and always off for anonymous viewers.
func (m *Manager) Enabled(name string, viewerID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	switch {
	case !ok || r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case viewerID == 0:
		return false
	}
	return rolloutBucket(name, viewerID) < r.percent
}

// Snapshot evaluates every known flag for one viewer.
func (m *Manager) Snapshot(viewerID uint) map[string]bool {
	out := make(map[string]bool, len(Known))
	for _, name := range Known {
		out[name] = m.Enabled(name, viewerID)
	}
	return out
}

// Invalid returns the entries that could not be parsed.
func (m *Manager) Invalid() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.invalid...)
}

// Unknown returns configured flag names the engine never reads, sorted.
func (m *Manager) Unknown() []string {
	if m == nil {
		return nil
	}
	known := make(map[string]bool, len(Known))
	for _, name := range Known {
		known[name] = true
	}
	var out []string
	for name := range m.rules {
		if !known[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, viewerID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), viewerID)
	return int(h.Sum32() % 100)
}
