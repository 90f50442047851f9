package httpmsg

import (
	"bytes"

	"golang.org/x/text/encoding"
)

// Body is the payload of a request or response. Bytes holds the form as
// transmitted, i.e. after the content encodings; Content and String expose
// the decoded form.
//
// The buffer may be longer than the written content: SetLength grows it and
// Append writes at the cursor that tracks what was actually written.
type Body struct {
	buf []byte
	pos int

	charset   string
	enc       encoding.Encoding
	encodings []ContentEncoding

	encodingErrors bool
	cached         string
	cacheValid     bool

	determineCharset bool
	detector         CharsetDetector
}

// NewBody returns a body holding p as already transmitted bytes.
func NewBody(p []byte) *Body {
	b := &Body{}
	b.SetBytes(p)
	return b
}

// NewBodyString returns a body holding s encoded with the default charset.
func NewBodyString(s string) *Body {
	b := &Body{}
	b.SetString(s)
	return b
}

// SetBytes stores p as the transmitted form, without applying encodings.
func (b *Body) SetBytes(p []byte) {
	b.buf = append(b.buf[:0], p...)
	b.pos = len(p)
	b.encodingErrors = false
	b.invalidate()
}

// Bytes returns the transmitted (encoded) form.
func (b *Body) Bytes() []byte {
	return b.buf
}

// Len returns the length of the transmitted form.
func (b *Body) Len() int {
	return len(b.buf)
}

// SetContent stores p as the decoded form and encodes it through the
// content encodings.
func (b *Body) SetContent(p []byte) {
	encoded, err := encodeChain(b.encodings, p)
	if err != nil {
		b.SetBytes(p)
		b.encodingErrors = true
		return
	}
	b.SetBytes(encoded)
}

// Content returns the decoded form. When decoding fails the transmitted
// bytes are returned and HasContentEncodingErrors reports true.
func (b *Body) Content() []byte {
	if len(b.encodings) == 0 || len(b.buf) == 0 {
		return b.buf
	}
	decoded, err := decodeChain(b.encodings, b.buf)
	if err != nil {
		b.encodingErrors = true
		return b.buf
	}
	return decoded
}

// SetString encodes s with the effective charset and stores it as content.
func (b *Body) SetString(s string) {
	if b.charset == "" && b.determineCharset && b.detector != nil {
		b.SetCharset(b.detector.DetermineCharset(s))
	}
	b.SetContent(encodeText(b.enc, s))
}

// String returns the decoded content as text, memoised until the bytes
// change.
func (b *Body) String() string {
	if b.cacheValid {
		return b.cached
	}
	content := b.Content()
	if b.charset == "" && b.determineCharset && b.detector != nil {
		b.SetCharset(b.detector.DetermineCharset(string(content)))
	}
	b.cached = decodeText(b.enc, content)
	b.cacheValid = true
	return b.cached
}

// Append adds already encoded bytes at the write cursor.
func (b *Body) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if need := b.pos + len(p); need > len(b.buf) {
		b.buf = append(b.buf, make([]byte, need-len(b.buf))...)
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	b.invalidate()
}

// AppendString adds text to the decoded content and re-encodes the whole
// body, as compressed data cannot be appended to.
func (b *Body) AppendString(s string) {
	if s == "" {
		return
	}
	if len(b.encodings) == 0 {
		b.Append(encodeText(b.enc, s))
		return
	}
	content := append([]byte(nil), b.Content()...)
	b.SetContent(append(content, encodeText(b.enc, s)...))
}

// SetLength truncates or grows the buffer. Growing only reserves zero bytes
// and leaves the write cursor where it was.
func (b *Body) SetLength(n int) {
	if n < 0 || n == len(b.buf) {
		return
	}
	if n < len(b.buf) {
		clear(b.buf[n:])
		b.buf = b.buf[:n]
		b.pos = min(b.pos, n)
		b.invalidate()
		return
	}
	b.buf = append(b.buf, make([]byte, n-len(b.buf))...)
}

func (b *Body) invalidate() {
	b.cached = ""
	b.cacheValid = false
}

// Charset returns the explicitly set or detected charset, or "".
func (b *Body) Charset() string {
	return b.charset
}

// SetCharset sets the charset used for string conversions. Unknown names
// are ignored.
func (b *Body) SetCharset(name string) {
	if name == "" {
		b.charset, b.enc = "", nil
		b.invalidate()
		return
	}
	enc := lookupCharset(name)
	if enc == nil {
		return
	}
	b.charset, b.enc = name, enc
	b.invalidate()
}

// SetCharsetDetection enables d for bodies without an explicit charset.
func (b *Body) SetCharsetDetection(enabled bool, d CharsetDetector) {
	b.determineCharset = enabled
	b.detector = d
	b.invalidate()
}

// Encodings returns the content encoding chain in application order.
func (b *Body) Encodings() []ContentEncoding {
	return append([]ContentEncoding(nil), b.encodings...)
}

// SetEncodings changes how the stored bytes are interpreted; the bytes
// themselves are not transformed.
func (b *Body) SetEncodings(chain []ContentEncoding) {
	b.encodings = append([]ContentEncoding(nil), chain...)
	b.encodingErrors = false
	b.invalidate()
}

// HasContentEncodingErrors reports whether encoding or decoding failed.
func (b *Body) HasContentEncodingErrors() bool {
	return b.encodingErrors
}

// Equal compares the transmitted bytes and the encoding chain.
func (b *Body) Equal(o *Body) bool {
	if b == nil || o == nil {
		return b == o
	}
	return bytes.Equal(b.buf, o.buf) && sameChain(b.encodings, o.encodings)
}

// Clone returns a body with its own copy of the bytes.
func (b *Body) Clone() *Body {
	c := *b
	c.buf = append([]byte(nil), b.buf...)
	c.encodings = append([]ContentEncoding(nil), b.encodings...)
	return &c
}
