// Package gateway provides the generic HTTP capability consumed by the rest
// of the client core. Callers describe a request in transport-neutral terms
// and get back a uniform response; no other package touches an HTTP client
// directly.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Request struct {
	Method  string
	URL     string
	JSON    any               // JSON request body
	Form    map[string]string // form fields, used with or without a file part
	Headers map[string]string
	Timeout time.Duration // overrides the client default when > 0

	// multipart file part, optional
	FileField string
	FileName  string
	FileBody  io.Reader
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// IsJSON reports whether the server answered with a JSON body. Download
// endpoints use this to detect an error envelope where binary content was
// expected.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

func (r *Response) JSONMap() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(r.Body, &m); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return m, nil
}

type Gateway interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// RequestError is a transport-level failure: the request never produced a
// remote status. Timeout is kept distinct from other transport failures
// because a timed-out operation may still have succeeded server-side.
type RequestError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *RequestError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
