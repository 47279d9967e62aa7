package politeness

import (
	"bufio"
	"fmt"
	"strings"
	"time"
)

// Ruleset is a parsed robots.txt, queryable per user agent. An empty
// ruleset allows everything.
type Ruleset struct {
	groups []agentGroup
}

type agentGroup struct {
	// User agent tokens this group applies to
	agents []string

	allows    []string
	disallows []string

	crawlDelay *time.Duration
}

// ParseRobotsTxt parses robots.txt content into a Ruleset. Unknown
// fields and malformed lines are skipped; rules appearing before any
// User-agent line are treated as a wildcard group.
func ParseRobotsTxt(content string) *Ruleset {
	ruleset := &Ruleset{}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *agentGroup
	var global agentGroup
	hasGlobal := false

	for scanner.Scan() {
		line := scanner.Text()

		// Remove comments (everything after #)
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue // Invalid line, skip
		}
		field := strings.ToLower(strings.TrimSpace(line[:colonIdx]))
		value := strings.TrimSpace(line[colonIdx+1:])

		switch field {
		case "user-agent":
			if current == nil {
				current = &agentGroup{agents: []string{value}}
			} else if len(current.allows) == 0 && len(current.disallows) == 0 && current.crawlDelay == nil {
				// Consecutive user-agent lines share the same rules
				current.agents = append(current.agents, value)
			} else {
				ruleset.groups = append(ruleset.groups, *current)
				current = &agentGroup{agents: []string{value}}
			}

		case "allow":
			if current != nil {
				current.allows = append(current.allows, value)
			} else {
				global.allows = append(global.allows, value)
				hasGlobal = true
			}

		case "disallow":
			if current != nil {
				current.disallows = append(current.disallows, value)
			} else {
				global.disallows = append(global.disallows, value)
				hasGlobal = true
			}

		case "crawl-delay":
			if current != nil {
				var seconds float64
				if _, err := fmt.Sscanf(value, "%f", &seconds); err == nil && seconds >= 0 {
					delay := time.Duration(seconds * float64(time.Second))
					current.crawlDelay = &delay
				}
			}
		}
	}

	if current != nil {
		ruleset.groups = append(ruleset.groups, *current)
	}
	if hasGlobal {
		global.agents = []string{"*"}
		ruleset.groups = append([]agentGroup{global}, ruleset.groups...)
	}

	return ruleset
}

// Allowed reports whether the user agent may fetch the given path.
// Longest matching rule wins; Allow wins length ties; no matching rule
// means allowed.
func (r *Ruleset) Allowed(userAgent, path string) bool {
	group := r.groupFor(userAgent)
	if group == nil {
		return true
	}
	if path == "" {
		path = "/"
	}

	bestAllow, bestDisallow := -1, -1
	for _, rule := range group.allows {
		if rule == "" {
			continue
		}
		if ruleMatches(rule, path) && len(rule) > bestAllow {
			bestAllow = len(rule)
		}
	}
	for _, rule := range group.disallows {
		if rule == "" {
			// An empty Disallow value allows everything
			continue
		}
		if ruleMatches(rule, path) && len(rule) > bestDisallow {
			bestDisallow = len(rule)
		}
	}
	return bestAllow >= bestDisallow
}

// CrawlDelay returns the crawl delay configured for the user agent, or
// for the wildcard group when the agent's own group has none.
func (r *Ruleset) CrawlDelay(userAgent string) (time.Duration, bool) {
	if group := r.groupFor(userAgent); group != nil && group.crawlDelay != nil {
		return *group.crawlDelay, true
	}
	if group := r.wildcardGroup(); group != nil && group.crawlDelay != nil {
		return *group.crawlDelay, true
	}
	return 0, false
}

// groupFor returns the most specific group for a user agent: exact token
// match first, then longest prefix match, then wildcard.
func (r *Ruleset) groupFor(userAgent string) *agentGroup {
	agentLower := strings.ToLower(userAgent)

	for i := range r.groups {
		for _, token := range r.groups[i].agents {
			if strings.ToLower(token) == agentLower {
				return &r.groups[i]
			}
		}
	}

	var best *agentGroup
	bestLen := 0
	for i := range r.groups {
		for _, token := range r.groups[i].agents {
			tokenLower := strings.ToLower(token)
			if token == "*" {
				if best == nil {
					best = &r.groups[i]
				}
				continue
			}
			if strings.HasPrefix(agentLower, tokenLower) && len(tokenLower) > bestLen {
				best = &r.groups[i]
				bestLen = len(tokenLower)
			}
		}
	}
	return best
}

func (r *Ruleset) wildcardGroup() *agentGroup {
	for i := range r.groups {
		for _, token := range r.groups[i].agents {
			if token == "*" {
				return &r.groups[i]
			}
		}
	}
	return nil
}

// ruleMatches implements robots path patterns: '*' matches any sequence,
// a trailing '$' anchors the match to the end of the path.
func ruleMatches(rule, path string) bool {
	anchored := strings.HasSuffix(rule, "$")
	if anchored {
		rule = rule[:len(rule)-1]
	}

	segments := strings.Split(rule, "*")
	pos := 0
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if i == 0 {
			if !strings.HasPrefix(path, segment) {
				return false
			}
			pos = len(segment)
			continue
		}
		idx := strings.Index(path[pos:], segment)
		if idx == -1 {
			return false
		}
		pos += idx + len(segment)
	}

	if anchored {
		// The last literal segment must end exactly at the end of path
		if strings.HasSuffix(rule, "*") {
			return true
		}
		return pos == len(path)
	}
	return true
}
