package auth

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Credentials supplies the Authorization header for upstream calls.
type Credentials interface {
	AuthHeader() (string, error)
	ForceReauth(ctx context.Context) error
}

// Transport attaches the service credential to every outgoing request. When
// an upstream rejects the credential with 401, Transport forces a new login
// and replays the request once, provided its body can be replayed.
type Transport struct {
	Base        http.RoundTripper
	Credentials Credentials
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.send(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	log.Ctx(req.Context()).Info().
		Str("host", req.URL.Host).
		Msg("upstream rejected credential, re-authenticating")

	if err := t.Credentials.ForceReauth(req.Context()); err != nil {
		log.Ctx(req.Context()).Warn().Err(err).Msg("re-authentication failed, returning original response")
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}

	return t.send(retry)
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	header, err := t.Credentials.AuthHeader()
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", header)

	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
