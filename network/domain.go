package network

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

// RegexPrefix marks a pattern line in a domain list file.
const RegexPrefix = "regex:"

// DomainMatcher matches host names against a literal domain or a regular
// expression. Literal matching ignores case and IDN encoding.
type DomainMatcher struct {
	value   string
	pattern *regexp.Regexp
	Enabled bool
}

// NewDomainMatcher returns an enabled matcher for a literal domain.
func NewDomainMatcher(domain string) *DomainMatcher {
	return &DomainMatcher{value: normalizeHost(domain), Enabled: true}
}

// NewDomainMatcherPattern returns an enabled matcher for expr, which must
// match the whole host name.
func NewDomainMatcherPattern(expr string) (*DomainMatcher, error) {
	re, err := regexp.Compile(`(?i)^(?:` + expr + `)$`)
	if err != nil {
		return nil, errors.Wrapf(err, "domain pattern %q", expr)
	}
	return &DomainMatcher{value: expr, pattern: re, Enabled: true}, nil
}

// Value returns the literal domain or the pattern source.
func (d *DomainMatcher) Value() string {
	return d.value
}

func (d *DomainMatcher) IsRegex() bool {
	return d.pattern != nil
}

// Matches reports whether host matches. Disabled matchers never match.
func (d *DomainMatcher) Matches(host string) bool {
	if !d.Enabled || host == "" {
		return false
	}
	if d.pattern != nil {
		return d.pattern.MatchString(host) || d.pattern.MatchString(normalizeHost(host))
	}
	return strings.EqualFold(normalizeHost(host), d.value)
}

// MatchesAny reports whether any matcher accepts host.
func MatchesAny(matchers []*DomainMatcher, host string) bool {
	for _, m := range matchers {
		if m.Matches(host) {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return strings.ToLower(host)
}

// LoadDomainMatchers reads one domain per line. Lines starting with
// "regex:" are patterns; blank lines and lines starting with '#' are
// skipped.
func LoadDomainMatchers(path string) ([]*DomainMatcher, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open domain list")
	}
	defer file.Close()

	var matchers []*DomainMatcher
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if expr, ok := strings.CutPrefix(line, RegexPrefix); ok {
			m, err := NewDomainMatcherPattern(strings.TrimSpace(expr))
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
			continue
		}
		matchers = append(matchers, NewDomainMatcher(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading domain list")
	}
	return matchers, nil
}
