package httpmsg

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
)

// ParamType is the origin of an HtmlParameter. The order of the constants is
// the primary sort key of parameters.
type ParamType int

const (
	ParamCookie ParamType = iota
	ParamForm
	ParamURL
	ParamHeader
	ParamMultipart
)

func (t ParamType) String() string {
	switch t {
	case ParamCookie:
		return "cookie"
	case ParamForm:
		return "form"
	case ParamURL:
		return "url"
	case ParamHeader:
		return "header"
	case ParamMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

// HtmlParameter is a named value extracted from a request.
type HtmlParameter struct {
	Type  ParamType
	Name  string
	Value string
	Flags []string
}

// Compare orders parameters by type, then name, then value.
func (p HtmlParameter) Compare(o HtmlParameter) int {
	if c := cmp.Compare(p.Type, o.Type); c != 0 {
		return c
	}
	if c := strings.Compare(p.Name, o.Name); c != 0 {
		return c
	}
	return strings.Compare(p.Value, o.Value)
}

// ParameterSource extracts the parameters of one type from a message.
type ParameterSource interface {
	Params(m *Message, t ParamType) []HtmlParameter
}

// URLEncodedParameterSource reads the query string, an
// application/x-www-form-urlencoded body and the Cookie field.
type URLEncodedParameterSource struct{}

func (URLEncodedParameterSource) Params(m *Message, t ParamType) []HtmlParameter {
	switch t {
	case ParamURL:
		u := m.RequestHeader().URI()
		if u == nil {
			return nil
		}
		return parseURLEncoded(u.RawQuery, ParamURL)
	case ParamForm:
		if !m.RequestHeader().HasContentType(FormURLEncoded) {
			return nil
		}
		return parseURLEncoded(m.RequestBody().String(), ParamForm)
	case ParamCookie:
		var params []HtmlParameter
		for _, c := range m.RequestHeader().Cookies() {
			params = append(params, HtmlParameter{Type: ParamCookie, Name: c.Name, Value: c.Value})
		}
		return params
	}
	return nil
}

func parseURLEncoded(s string, t ParamType) []HtmlParameter {
	var params []HtmlParameter
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		params = append(params, HtmlParameter{Type: t, Name: unescapeParam(name), Value: unescapeParam(value)})
	}
	return params
}

func unescapeParam(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// sortedParams sorts and removes duplicates, as a sorted set would.
func sortedParams(params []HtmlParameter) []HtmlParameter {
	slices.SortFunc(params, HtmlParameter.Compare)
	return slices.CompactFunc(params, func(a, b HtmlParameter) bool {
		return a.Compare(b) == 0
	})
}
