// Package job implements the initiate / poll-until-done / fetch-result
// pattern for long-running remote work. The backend exposes it for IPA
// resigning; the runner is generic over endpoint and field names so other
// jobs of the same shape can reuse it.
package job

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/envelope"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
)

type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusComplete
	StatusFailed
	StatusTimedOut
)

// Terminal states never transition further.
func (s Status) Terminal() bool { return s >= StatusComplete }

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Handle tracks one remote job instance. Mutated only by the poll step;
// Percent advances monotonically.
type Handle struct {
	Token    string
	Resource string
	Status   Status
	Percent  int
}

type ErrorKind int

const (
	ErrInitiationFailed ErrorKind = iota + 1
	ErrResultUnavailable
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

const (
	DefaultMaxAttempts  = 30
	DefaultPollInterval = 2 * time.Second
)

// Endpoints names the three remote calls of a job plus the envelope fields
// they speak. TokenField doubles as the request payload key for poll and
// fetch, matching the backend convention.
type Endpoints struct {
	Initiate string
	Progress string
	Fetch    string

	TokenField    string
	ProgressField string
	ResultField   string
}

func ResignEndpoints(baseURL string) Endpoints {
	return Endpoints{
		Initiate:      baseURL + "/resign/initiate",
		Progress:      baseURL + "/resign/progress",
		Fetch:         baseURL + "/resign/download",
		TokenField:    "resign_token",
		ProgressField: "resign_status",
		ResultField:   "resign_file",
	}
}

type Runner struct {
	gw     gateway.Gateway
	tokens *auth.TokenManager
	eps    Endpoints
}

func NewRunner(gw gateway.Gateway, tokens *auth.TokenManager, eps Endpoints) *Runner {
	return &Runner{gw: gw, tokens: tokens, eps: eps}
}

// Initiate starts the remote job for resource and returns its handle.
func (r *Runner) Initiate(ctx context.Context, resource string) (*Handle, error) {
	resp, err := r.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return r.gw.Do(ctx, gateway.Request{
			Method: http.MethodPost,
			URL:    r.eps.Initiate,
			JSON:   map[string]any{"token": token, "filename": resource},
		})
	})
	if err != nil {
		return nil, err
	}
	result, err := envelope.ParseResult(resp.Body)
	if err != nil {
		return nil, err
	}
	jobToken, _ := result[r.eps.TokenField].(string)
	if jobToken == "" {
		return nil, &Error{Kind: ErrInitiationFailed, Message: fmt.Sprintf("failed to initiate job for %s: no %s in response %v", resource, r.eps.TokenField, result)}
	}
	return &Handle{Token: jobToken, Resource: resource, Status: StatusPending}, nil
}

// PollUntilDone polls progress up to maxAttempts times, sleeping interval
// between attempts. Reaching 100 percent yields Complete; exhausting the
// attempts yields TimedOut, which is a terminal status the caller handles,
// not an error. A failed individual poll counts as that attempt's failure
// and polling continues.
func (r *Runner) PollUntilDone(ctx context.Context, h *Handle, maxAttempts int, interval time.Duration) (*Handle, error) {
	if h.Status.Terminal() {
		return h, nil
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				h.Status = StatusTimedOut
				return h, ctx.Err()
			case <-time.After(interval):
			}
		}
		resp, err := r.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
			return r.gw.Do(ctx, gateway.Request{
				Method: http.MethodPost,
				URL:    r.eps.Progress,
				JSON:   map[string]any{"token": token, r.eps.TokenField: h.Token, "filename": h.Resource},
			})
		})
		if err != nil {
			log.Warnf("progress poll for %s failed: %v", h.Resource, err)
			continue
		}
		result, err := envelope.ParseResult(resp.Body)
		if err != nil {
			log.Warnf("progress poll for %s returned malformed envelope: %v", h.Resource, err)
			continue
		}
		if pct, ok := result[r.eps.ProgressField].(float64); ok {
			h.Status = StatusInProgress
			if int(pct) > h.Percent {
				h.Percent = int(pct)
			}
			log.Debugf("job %s at %d%%", h.Resource, h.Percent)
			if h.Percent >= 100 {
				h.Status = StatusComplete
				return h, nil
			}
		}
	}
	h.Status = StatusTimedOut
	log.Warnf("job %s did not complete within %d attempts", h.Resource, maxAttempts)
	return h, nil
}

// FetchResult retrieves the finished job's resource reference.
func (r *Runner) FetchResult(ctx context.Context, h *Handle) (string, error) {
	resp, err := r.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return r.gw.Do(ctx, gateway.Request{
			Method: http.MethodPost,
			URL:    r.eps.Fetch,
			JSON:   map[string]any{"token": token, r.eps.TokenField: h.Token, "filename": h.Resource},
		})
	})
	if err != nil {
		return "", err
	}
	result, err := envelope.ParseResult(resp.Body)
	if err != nil {
		return "", err
	}
	ref, _ := result[r.eps.ResultField].(string)
	if ref == "" {
		return "", &Error{Kind: ErrResultUnavailable, Message: fmt.Sprintf("no %s in fetch response for %s: %v", r.eps.ResultField, h.Resource, result)}
	}
	return ref, nil
}
