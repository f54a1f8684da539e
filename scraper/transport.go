package scraper

import (
	"bufio"
	"compress/flate"
	"compress/zlib"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport undoes the brotli and deflate encodings advertised in
// Accept-Encoding. gzip is left to colly, which already decodes it.
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	var decoded io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		decoded = brotli.NewReader(resp.Body)
	case "deflate":
		decoded = newDeflateReader(resp.Body)
	default:
		return resp, nil
	}

	resp.Body = &decodedBody{Reader: decoded, closer: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams; servers
// disagree on which one "deflate" means.
func newDeflateReader(r io.Reader) io.Reader {
	buffered := bufio.NewReader(r)
	header, err := buffered.Peek(2)
	if err == nil && isZlibHeader(header[0], header[1]) {
		if zr, err := zlib.NewReader(buffered); err == nil {
			return zr
		}
	}
	return flate.NewReader(buffered)
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type decodedBody struct {
	io.Reader
	closer io.Closer
}

func (b *decodedBody) Close() error {
	return b.closer.Close()
}
