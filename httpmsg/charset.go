package httpmsg

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultCharset is used for string conversions when a body has no charset.
const DefaultCharset = "ISO-8859-1"

// CharsetDetector guesses the charset of body text. It returns "" when it
// cannot tell. No detector is installed by default.
type CharsetDetector interface {
	DetermineCharset(text string) string
}

// CharsetDetectorFunc adapts a function to CharsetDetector.
type CharsetDetectorFunc func(text string) string

func (f CharsetDetectorFunc) DetermineCharset(text string) string {
	return f(text)
}

// lookupCharset resolves an IANA charset name, returning nil for unknown or
// unsupported names.
func lookupCharset(name string) encoding.Encoding {
	if name == "" {
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil
	}
	return enc
}

func charsetOrDefault(enc encoding.Encoding) encoding.Encoding {
	if enc == nil {
		return charmap.ISO8859_1
	}
	return enc
}

func encodeText(enc encoding.Encoding, s string) []byte {
	out, err := encoding.ReplaceUnsupported(charsetOrDefault(enc).NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

func decodeText(enc encoding.Encoding, p []byte) string {
	out, err := charsetOrDefault(enc).NewDecoder().Bytes(p)
	if err != nil {
		return string(p)
	}
	return string(out)
}
