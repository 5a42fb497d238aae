package job

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

type fakeGateway struct {
	fn func(req gateway.Request) (*gateway.Response, error)
}

func (f *fakeGateway) Do(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	return f.fn(req)
}

func jsonResponse(status int, body string) *gateway.Response {
	return &gateway.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(body),
	}
}

func newTokens(gw gateway.Gateway) *auth.TokenManager {
	return auth.NewTokenManager(model.Credential{Username: "u", APIKey: "k"}, "https://cloud.example/api", gw)
}

// routes requests by URL suffix; anything under /access issues a token.
func routed(t *testing.T, routes map[string]func(req gateway.Request) (*gateway.Response, error)) *fakeGateway {
	return &fakeGateway{fn: func(req gateway.Request) (*gateway.Response, error) {
		if strings.HasSuffix(req.URL, "/access") {
			return jsonResponse(200, `{"result":{"token":"tok"}}`), nil
		}
		for suffix, handler := range routes {
			if strings.HasSuffix(req.URL, suffix) {
				return handler(req)
			}
		}
		t.Fatalf("unexpected request URL %s", req.URL)
		return nil, nil
	}}
}

func TestInitiateReturnsHandle(t *testing.T) {
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/initiate": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_token":"jt-1","resign_filename":"app_resign.ipa"}}`), nil
		},
	})
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	h, err := r.Initiate(context.Background(), "app.ipa")
	require.NoError(t, err)
	assert.Equal(t, "jt-1", h.Token)
	assert.Equal(t, "app.ipa", h.Resource)
	assert.Equal(t, StatusPending, h.Status)
}

func TestInitiateFailsWithoutJobToken(t *testing.T) {
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/initiate": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"code":500,"msg":"no capacity"}}`), nil
		},
	})
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	_, err := r.Initiate(context.Background(), "app.ipa")
	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrInitiationFailed, jerr.Kind)
}

func TestPollUntilDoneCompletes(t *testing.T) {
	progress := []int{25, 60, 100}
	polls := 0
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/progress": func(req gateway.Request) (*gateway.Response, error) {
			body := fmt.Sprintf(`{"result":{"resign_status":%d}}`, progress[polls])
			polls++
			return jsonResponse(200, body), nil
		},
	})
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	h := &Handle{Token: "jt", Resource: "app.ipa"}
	h, err := r.PollUntilDone(context.Background(), h, 10, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, h.Status)
	assert.Equal(t, 100, h.Percent)
	assert.Equal(t, 3, polls)
}

func TestPollUntilDoneTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	polls := 0
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/progress": func(req gateway.Request) (*gateway.Response, error) {
			polls++
			return jsonResponse(200, `{"result":{"resign_status":50}}`), nil
		},
	})
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	h := &Handle{Token: "jt", Resource: "app.ipa"}
	h, err := r.PollUntilDone(context.Background(), h, 3, time.Millisecond)
	require.NoError(t, err, "timeout is a terminal status, not an error")
	assert.Equal(t, StatusTimedOut, h.Status)
	assert.Equal(t, 50, h.Percent)
	assert.Equal(t, 3, polls)
}

func TestPollUntilDoneToleratesFailedPolls(t *testing.T) {
	polls := 0
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/progress": func(req gateway.Request) (*gateway.Response, error) {
			polls++
			if polls == 1 {
				return nil, &gateway.RequestError{URL: req.URL, Timeout: true, Err: context.DeadlineExceeded}
			}
			return jsonResponse(200, `{"result":{"resign_status":100}}`), nil
		},
	})
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	h := &Handle{Token: "jt", Resource: "app.ipa"}
	h, err := r.PollUntilDone(context.Background(), h, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, h.Status)
	assert.Equal(t, 2, polls)
}

func TestPollUntilDoneLeavesTerminalStateAlone(t *testing.T) {
	gw := routed(t, nil)
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	h := &Handle{Token: "jt", Resource: "app.ipa", Status: StatusComplete, Percent: 100}
	h, err := r.PollUntilDone(context.Background(), h, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, h.Status)
}

func TestFetchResultMissingReference(t *testing.T) {
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/download": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"code":500}}`), nil
		},
	})
	r := NewRunner(gw, newTokens(gw), ResignEndpoints("https://cloud.example/api"))

	_, err := r.FetchResult(context.Background(), &Handle{Token: "jt", Resource: "app.ipa"})
	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrResultUnavailable, jerr.Kind)
}

type fakeAppLister struct {
	files []model.FileDescriptor
	err   error
	calls int
}

func (f *fakeAppLister) ListApps(_ context.Context, _ int, _ string) ([]model.FileDescriptor, error) {
	f.calls++
	return f.files, f.err
}

func TestResignDuplicateGuardShortCircuits(t *testing.T) {
	initiated := false
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/initiate": func(req gateway.Request) (*gateway.Response, error) {
			initiated = true
			return jsonResponse(200, `{"result":{"resign_token":"jt"}}`), nil
		},
	})
	apps := &fakeAppLister{files: []model.FileDescriptor{
		{File: "other.apk"},
		{File: "MyApp_Resign.ipa"},
	}}
	w := NewResignWorkflow(gw, newTokens(gw), "https://cloud.example/api", apps)

	out, err := w.Run(context.Background(), "myapp.ipa", false)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, "myapp_resign.ipa", out.Existing)
	assert.False(t, initiated, "duplicate guard must not start the remote job")
}

func TestResignForceBypassesGuard(t *testing.T) {
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/initiate": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_token":"jt"}}`), nil
		},
		"/resign/progress": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_status":100}}`), nil
		},
		"/resign/download": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_file":"myapp_resign.ipa"}}`), nil
		},
	})
	apps := &fakeAppLister{files: []model.FileDescriptor{{File: "myapp_resign.ipa"}}}
	w := NewResignWorkflow(gw, newTokens(gw), "https://cloud.example/api", apps)
	w.interval = time.Millisecond

	out, err := w.Run(context.Background(), "myapp.ipa", true)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "myapp_resign.ipa", out.ResignedFile)
	assert.False(t, out.TimedOut)
	assert.Equal(t, 0, apps.calls, "force skips the listing check")
}

func TestResignProceedsWhenGuardListingFails(t *testing.T) {
	gw := routed(t, map[string]func(req gateway.Request) (*gateway.Response, error){
		"/resign/initiate": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_token":"jt"}}`), nil
		},
		"/resign/progress": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_status":100}}`), nil
		},
		"/resign/download": func(req gateway.Request) (*gateway.Response, error) {
			return jsonResponse(200, `{"result":{"resign_file":"app_resign.ipa"}}`), nil
		},
	})
	apps := &fakeAppLister{err: fmt.Errorf("listing unavailable")}
	w := NewResignWorkflow(gw, newTokens(gw), "https://cloud.example/api", apps)
	w.interval = time.Millisecond

	out, err := w.Run(context.Background(), "app.ipa", false)
	require.NoError(t, err)
	assert.Equal(t, "app_resign.ipa", out.ResignedFile)
}

func TestExpectedResignedNames(t *testing.T) {
	names := expectedResignedNames("game.ipa")
	assert.Equal(t, []string{
		"game_resign.ipa",
		"game-resign.ipa",
		"resign_game.ipa",
		"game.ipa_resign",
		"resign_game.ipa",
	}, names)
}
