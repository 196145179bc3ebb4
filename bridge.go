package courier

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// bridgeInterceptor translates the application request into a
// network-ready one — default headers, content negotiation, cookies —
// and the network response back into an application-level one,
// including transparent gzip decoding when it asked for gzip itself.
type bridgeInterceptor struct {
	jar       http.CookieJar
	userAgent string
}

func (b *bridgeInterceptor) Intercept(ctx context.Context, chain *Chain) (*Response, error) {
	req := chain.Request().Clone()

	if req.Body != nil {
		if req.ContentLength >= 0 {
			req.Header.Set("Content-Length", strconv.FormatInt(req.ContentLength, 10))
			req.Header.Del("Transfer-Encoding")
		} else {
			req.Header.Set("Transfer-Encoding", "chunked")
			req.Header.Del("Content-Length")
		}
	}

	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}
	if req.Header.Get("Connection") == "" {
		req.Header.Set("Connection", "Keep-Alive")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	// Only unzip responses we asked to be zipped; an explicit
	// Accept-Encoding means the caller handles decoding.
	transparentGzip := false
	if req.Header.Get("Accept-Encoding") == "" && req.Header.Get("Range") == "" {
		transparentGzip = true
		req.Header.Set("Accept-Encoding", "gzip")
	}

	if b.jar != nil {
		if cookies := b.jar.Cookies(req.URL); len(cookies) > 0 {
			req.Header.Set("Cookie", cookieHeader(cookies))
		}
	}

	resp, err := chain.Proceed(ctx, req)
	if err != nil {
		return nil, err
	}

	if b.jar != nil {
		stub := http.Response{Header: resp.Header}
		if cookies := stub.Cookies(); len(cookies) > 0 {
			b.jar.SetCookies(req.URL, cookies)
		}
	}

	if transparentGzip &&
		strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") &&
		resp.Body != nil {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.discardBody()
			return nil, fmt.Errorf("opening gzip response body: %w", err)
		}

		resp.Body = &gzipBody{gz: gz, raw: resp.Body}
		resp.ContentLength = -1
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}

	return resp, nil
}

// cookieHeader serializes cookies into a single Cookie header value.
func cookieHeader(cookies []*http.Cookie) string {
	var sb strings.Builder
	for i, c := range cookies {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(c.Name)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	return sb.String()
}

// gzipBody closes both the decompressor and the wire body.
type gzipBody struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) {
	return g.gz.Read(p)
}

func (g *gzipBody) Close() error {
	gzErr := g.gz.Close()
	if err := g.raw.Close(); err != nil {
		return err
	}
	return gzErr
}
