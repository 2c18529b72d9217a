// Package upstream holds thin JSON clients for the backend services the
// gateway aggregates. The clients do no caching or batching of their own and
// never swallow errors: deciding whether a failure degrades or propagates is
// left to the caller.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound matches any StatusError with status 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for upstream responses outside the 2xx range.
type StatusError struct {
	Service string
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s %s: upstream status %d", e.Service, e.Method, e.Path, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Status reports the status the gateway should answer with. Client errors are
// passed through, except a rejected gateway credential, which like anything
// else is a bad gateway.
func (e *StatusError) Status() (int, string) {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return http.StatusBadGateway, fmt.Sprintf("%s service rejected the gateway credential", e.Service)
	}

	if e.Code >= 400 && e.Code < 500 {
		msg := e.Message
		if msg == "" {
			msg = http.StatusText(e.Code)
		}
		return e.Code, msg
	}
	return http.StatusBadGateway, fmt.Sprintf("%s service unavailable", e.Service)
}

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 512

type client struct {
	service string
	baseURL string
	http    *http.Client
}

func newClient(service, baseURL string, hc *http.Client) client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return client{
		service: service,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    hc,
	}
}

func (c client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

// sendJSON issues a request with an optional JSON body and decodes a JSON
// response into out, when out is not nil.
func (c client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request body: %w", c.service, err)
		}
		// a bytes.Reader lets the request be replayed after re-authentication
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", c.service, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Ctx(ctx).Debug().
			Str("service", c.service).
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("upstream request failed")

		return &StatusError{
			Service: c.service,
			Method:  method,
			Path:    path,
			Code:    resp.StatusCode,
			Message: strings.TrimSpace(string(msg)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response for %s: %w", c.service, path, err)
	}

	return nil
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
