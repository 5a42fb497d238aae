package platform

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

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

// deviceInfoGateway answers /access and serves a fixed device-info body.
func deviceInfoGateway(body string) *fakeGateway {
	return &fakeGateway{fn: func(req gateway.Request) (*gateway.Response, error) {
		if strings.HasSuffix(req.URL, "/access") {
			return jsonResponse(200, `{"result":{"token":"tok"}}`), nil
		}
		return jsonResponse(200, body), nil
	}}
}

type fakeFileLister struct {
	files []model.FileDescriptor
	err   error
	calls int
}

func (f *fakeFileLister) ListSessionFiles(_ context.Context, _ string) ([]model.FileDescriptor, error) {
	f.calls++
	return f.files, f.err
}

func TestDetectAndroidWins(t *testing.T) {
	gw := deviceInfoGateway(`{"result":{"url":"...","model":"Samsung Galaxy S24","os":"Android 14","browser":"Chrome"}}`)
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", nil)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformAndroid, guess.Platform)
	require.Len(t, guess.Hints, 1)
	assert.Equal(t, "Android indicators found: 3", guess.Hints[0])
}

func TestDetectIOSWins(t *testing.T) {
	gw := deviceInfoGateway(`{"result":{"model":"Apple iPhone 15","os":"iOS 17","browser":"Safari"}}`)
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", nil)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformIOS, guess.Platform)
}

func TestDetectTieWithoutFilesIsUnknown(t *testing.T) {
	// one indicator each side, no file lister to break the tie
	gw := deviceInfoGateway(`{"result":{"note":"apple google device"}}`)
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", nil)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformUnknown, guess.Platform)
	assert.Empty(t, guess.Hints)
}

func TestDetectTieBrokenByLogcatFiles(t *testing.T) {
	gw := deviceInfoGateway(`{"result":{"note":"no platform words here"}}`)
	files := &fakeFileLister{files: []model.FileDescriptor{
		{File: "Logcat_2024.txt"},
		{File: "screenshot.png"},
	}}
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", files)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformAndroid, guess.Platform)
	assert.Contains(t, guess.Hints, "Android-specific log files detected")
	assert.Equal(t, 1, files.calls)
}

func TestDetectTieBrokenBySyslogFiles(t *testing.T) {
	gw := deviceInfoGateway(`{"result":{"note":"no platform words here"}}`)
	files := &fakeFileLister{files: []model.FileDescriptor{{File: "syslog.log"}}}
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", files)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformIOS, guess.Platform)
}

func TestDetectListingFailureLeavesUnknown(t *testing.T) {
	gw := deviceInfoGateway(`{"result":{"note":"nothing conclusive"}}`)
	files := &fakeFileLister{err: errors.New("device released")}
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", files)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformUnknown, guess.Platform)
}

func TestDetectTransportErrorIsSurfaced(t *testing.T) {
	gw := &fakeGateway{fn: func(req gateway.Request) (*gateway.Response, error) {
		if strings.HasSuffix(req.URL, "/access") {
			return jsonResponse(200, `{"result":{"token":"tok"}}`), nil
		}
		return nil, &gateway.RequestError{URL: req.URL, Err: errors.New("connection refused")}
	}}
	d := NewDetector(gw, newTokens(gw), "https://cloud.example/api", nil)

	guess, err := d.Detect(context.Background(), "rid-1")
	require.Error(t, err)
	assert.Equal(t, model.PlatformUnknown, guess.Platform)
}
