package httpmsg

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// ContentEncoding is a reversible transformation of body bytes, as named by
// the Content-Encoding field.
type ContentEncoding interface {
	Name() string
	Encode(p []byte) ([]byte, error)
	Decode(p []byte) ([]byte, error)
}

var (
	Gzip    ContentEncoding = gzipEncoding{}
	Deflate ContentEncoding = deflateEncoding{}
)

// EncodingsFor returns the chain named by a Content-Encoding value, in the
// order the encodings were applied. Any coding other than gzip and deflate
// makes the body opaque and yields an empty chain.
func EncodingsFor(contentEncoding string) []ContentEncoding {
	var chain []ContentEncoding
	for _, name := range strings.Split(contentEncoding, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "identity":
		case "gzip", "x-gzip":
			chain = append(chain, Gzip)
		case "deflate":
			chain = append(chain, Deflate)
		default:
			return nil
		}
	}
	return chain
}

type gzipEncoding struct{}

func (gzipEncoding) Name() string { return "gzip" }

func (gzipEncoding) Encode(p []byte) ([]byte, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	w := gzip.NewWriter(bb)
	if _, err := w.Write(p); err != nil {
		return nil, errors.Wrap(err, "gzip encode")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip encode")
	}
	return append([]byte(nil), bb.B...), nil
}

func (gzipEncoding) Decode(p []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, errors.Wrap(err, "gzip decode")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "gzip decode")
	}
	return out, nil
}

// deflateEncoding writes zlib-wrapped data and reads both zlib-wrapped and
// raw deflate streams, since servers send either.
type deflateEncoding struct{}

func (deflateEncoding) Name() string { return "deflate" }

func (deflateEncoding) Encode(p []byte) ([]byte, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	w := zlib.NewWriter(bb)
	if _, err := w.Write(p); err != nil {
		return nil, errors.Wrap(err, "deflate encode")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "deflate encode")
	}
	return append([]byte(nil), bb.B...), nil
}

func (deflateEncoding) Decode(p []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(p)); err == nil {
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "deflate decode")
		}
		return out, nil
	}
	r := flate.NewReader(bytes.NewReader(p))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "deflate decode")
	}
	return out, nil
}

func encodeChain(chain []ContentEncoding, p []byte) ([]byte, error) {
	var err error
	for _, enc := range chain {
		if p, err = enc.Encode(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func decodeChain(chain []ContentEncoding, p []byte) ([]byte, error) {
	var err error
	for i := len(chain) - 1; i >= 0; i-- {
		if p, err = chain[i].Decode(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func sameChain(a, b []ContentEncoding) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name() != b[i].Name() {
			return false
		}
	}
	return true
}
