package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/ccachego/pkg/hash"
)

// httpLayout selects how a digest maps onto a URL path, per spec §4.8's
// "layout ∈ {bazel, flat, subdirs}".
type httpLayout int

const (
	layoutSubdirs httpLayout = iota
	layoutFlat
	layoutBazel
)

// HTTPBackend speaks a REST-ish protocol against an HTTP(S) cache server:
// GET/PUT/DELETE on "<base>/<a>/<b>/<digest>" (subdirs, the default
// layout), matching original_source's httpstorage.cpp.
type HTTPBackend struct {
	client      *http.Client
	base        string
	redactedURL string
	readOnly    bool
	log         *zap.Logger
	timeout     time.Duration
	layout      httpLayout
	bearerToken string
	basicUser   string
	basicPass   string
	hasBasic    bool
	headers     map[string]string
}

func newHTTPBackend(u *url.URL, attrs []Attribute, log *zap.Logger) (*HTTPBackend, error) {
	authURL := *u
	authURL.User = nil
	authURL.RawQuery = ""
	base := authURL.String()
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	connectTimeout := attrDuration(attrs, "connect-timeout", 5*time.Second)
	opTimeout := attrDuration(attrs, "operation-timeout", DefaultTimeout)
	keepAlive := attrDuration(attrs, "keep-alive", 30*time.Second)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		IdleConnTimeout: keepAlive,
	}

	b := &HTTPBackend{
		client:      &http.Client{Timeout: opTimeout, Transport: transport},
		base:        base,
		redactedURL: Redact(base),
		readOnly:    attrBool(attrs, "read-only", false),
		log:         log,
		timeout:     opTimeout,
		layout:      parseHTTPLayout(attrString(attrs, "layout", "subdirs")),
		bearerToken: attrString(attrs, "bearer-token", ""),
		headers:     parseHeaderAttrs(attrs),
	}
	if u.User != nil {
		b.basicUser = u.User.Username()
		b.basicPass, _ = u.User.Password()
		b.hasBasic = true
	}
	return b, nil
}

func parseHTTPLayout(s string) httpLayout {
	switch s {
	case "flat":
		return layoutFlat
	case "bazel":
		return layoutBazel
	default:
		return layoutSubdirs
	}
}

// parseHeaderAttrs collects repeated "header=Name:Value" attributes into a
// map, letting a storage URL inject arbitrary custom headers (spec §4.8).
func parseHeaderAttrs(attrs []Attribute) map[string]string {
	headers := make(map[string]string)
	for _, a := range attrs {
		if a.Name != "header" {
			continue
		}
		if idx := strings.IndexByte(a.Value, ':'); idx >= 0 {
			name := strings.TrimSpace(a.Value[:idx])
			value := strings.TrimSpace(a.Value[idx+1:])
			if name != "" {
				headers[name] = value
			}
		}
	}
	return headers
}

func attrDuration(attrs []Attribute, name string, def time.Duration) time.Duration {
	for _, a := range attrs {
		if a.Name == name {
			if secs, err := time.ParseDuration(a.Value + "s"); err == nil {
				return secs
			}
		}
	}
	return def
}

func (b *HTTPBackend) entryURL(key hash.Digest) string {
	switch b.layout {
	case layoutFlat:
		return b.base + key.String()
	case layoutBazel:
		// Bazel remote-cache convention: a flat "ac/<digest>" action-cache
		// namespace, matching buchgr/bazel-remote's disk layout.
		return b.base + "ac/" + key.String()
	default:
		a, bb := key.Shard()
		return fmt.Sprintf("%s%s/%s/%s", b.base, a, bb, key.String())
	}
}

func (b *HTTPBackend) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	b.applyAuth(req)
	for name, value := range b.headers {
		req.Header.Set(name, value)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errFailure(FailureTimeout, "remote(http %s): %w", b.redactedURL, err)
		}
		return nil, errFailure(FailureError, "remote(http %s): %w", b.redactedURL, err)
	}
	return resp, nil
}

// applyAuth attaches a bearer token or basic-auth header, per spec §4.8's
// "bearer-token or URL user-info produces auth header".
func (b *HTTPBackend) applyAuth(req *http.Request) {
	if b.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.bearerToken)
		return
	}
	if b.hasBasic {
		req.SetBasicAuth(b.basicUser, b.basicPass)
	}
}

func (b *HTTPBackend) Get(ctx context.Context, key hash.Digest) ([]byte, bool, error) {
	resp, err := b.do(ctx, http.MethodGet, b.entryURL(key), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, false, errFailure(FailureError, "remote(http %s): unexpected status %d", b.redactedURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errFailure(FailureError, "remote(http %s): reading body: %w", b.redactedURL, err)
	}
	return data, true, nil
}

func (b *HTTPBackend) Put(ctx context.Context, key hash.Digest, value []byte, onlyIfMissing bool) (bool, error) {
	if b.readOnly {
		return false, errFailure(FailureError, "remote(http %s): %w", b.redactedURL, errReadOnly)
	}
	if onlyIfMissing {
		if _, ok, err := b.Get(ctx, key); err != nil {
			return false, err
		} else if ok {
			return false, nil
		}
	}
	resp, err := b.do(ctx, http.MethodPut, b.entryURL(key), value)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, errFailure(FailureError, "remote(http %s): put status %d", b.redactedURL, resp.StatusCode)
	}
	return true, nil
}

func (b *HTTPBackend) Remove(ctx context.Context, key hash.Digest) error {
	if b.readOnly {
		return errFailure(FailureError, "remote(http %s): %w", b.redactedURL, errReadOnly)
	}
	resp, err := b.do(ctx, http.MethodDelete, b.entryURL(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return errFailure(FailureError, "remote(http %s): delete status %d", b.redactedURL, resp.StatusCode)
	}
	return nil
}

func (b *HTTPBackend) String() string { return "http:" + b.redactedURL }
