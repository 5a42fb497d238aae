package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Client is the resty-backed Gateway implementation.
type Client struct {
	rc      *resty.Client
	timeout time.Duration
}

func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{rc: resty.New(), timeout: timeout}
}

func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uuid.NewString()[:8]
	r := c.rc.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.JSON != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.JSON)
	}
	if len(req.Form) > 0 {
		r.SetFormData(req.Form)
	}
	if req.FileBody != nil {
		r.SetFileReader(req.FileField, req.FileName, req.FileBody)
	}

	log.Debugf("[%s] %s %s", id, req.Method, req.URL)
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		rerr := &RequestError{URL: req.URL, Timeout: isTimeout(err), Err: err}
		log.Debugf("[%s] %v", id, rerr)
		return nil, rerr
	}
	log.Debugf("[%s] status %d, %d bytes", id, resp.StatusCode(), len(resp.Body()))
	return &Response{Status: resp.StatusCode(), Header: resp.Header(), Body: resp.Body()}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

var _ Gateway = (*Client)(nil)
