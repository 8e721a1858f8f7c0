package session

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Descriptor is an immutable snapshot of a request that can be sent more than
// once. Methods return modified copies; a Descriptor is never mutated after
// construction, so concurrent code paths always agree on its state.
type Descriptor struct {
	req       *http.Request
	body      func() (io.ReadCloser, error)
	requestID string

	token   string
	retried bool
}

// NewDescriptor snapshots req. The body is taken from req.GetBody when set,
// otherwise it is buffered in memory so it can be replayed. req.Body is closed.
func NewDescriptor(req *http.Request) (Descriptor, error) {
	d := Descriptor{
		req:       req,
		requestID: req.Header.Get(RequestIDHeader),
	}
	if d.requestID == "" {
		d.requestID = uuid.NewString()
	}

	if req.Body == nil || req.Body == http.NoBody {
		return d, nil
	}

	if req.GetBody != nil {
		_ = req.Body.Close()
		d.body = req.GetBody
		return d, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return Descriptor{}, fmt.Errorf("buffering request body: %w", err)
	}
	d.body = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return d, nil
}

// Token returns the access token the descriptor is sent with.
func (d Descriptor) Token() string {
	return d.token
}

// Retried reports whether the descriptor is a replay after a refresh.
func (d Descriptor) Retried() bool {
	return d.retried
}

// RequestID returns the correlation ID shared by the original send and its replay.
func (d Descriptor) RequestID() string {
	return d.requestID
}

// WithToken returns a copy that is sent with token.
func (d Descriptor) WithToken(token string) Descriptor {
	d.token = token
	return d
}

// Retry returns a copy marked as retried that is sent with token.
func (d Descriptor) Retry(token string) Descriptor {
	d.token = token
	d.retried = true
	return d
}

// Request builds a fresh *http.Request ready to be sent.
func (d Descriptor) Request() (*http.Request, error) {
	out := d.req.Clone(d.req.Context())
	if d.body != nil {
		body, err := d.body()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = body
		out.GetBody = d.body
	}
	prepare(out, d.token, d.requestID)
	return out, nil
}
