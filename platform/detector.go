// Package platform guesses whether a booked device runs Android or iOS.
// The backend does not say outright, so detection is lexical scoring over
// the device-info envelope with a log-filename tie-break. The guess is
// advisory: unknown means "ask the caller", never "refuse".
package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

var (
	iosIndicators     = []string{"ios", "iphone", "ipad", "apple", "safari"}
	androidIndicators = []string{"android", "samsung", "pixel", "chrome", "google"}
)

// FileLister supplies the device's session-file names for the secondary
// heuristic.
type FileLister interface {
	ListSessionFiles(ctx context.Context, rid string) ([]model.FileDescriptor, error)
}

type Detector struct {
	gw      gateway.Gateway
	tokens  *auth.TokenManager
	baseURL string
	files   FileLister
}

func NewDetector(gw gateway.Gateway, tokens *auth.TokenManager, baseURL string, files FileLister) *Detector {
	return &Detector{gw: gw, tokens: tokens, baseURL: baseURL, files: files}
}

// Detect fetches the device-info envelope and scores platform indicators.
// A strict winner decides; a tie falls through to log-filename evidence;
// both inconclusive yields unknown.
func (d *Detector) Detect(ctx context.Context, rid string) (model.PlatformGuess, error) {
	resp, err := d.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return d.gw.Do(ctx, gateway.Request{
			Method: http.MethodPost,
			URL:    d.baseURL + "/get_device_url",
			JSON:   map[string]any{"token": token, "rid": rid},
		})
	})
	if err != nil {
		return model.PlatformGuess{Platform: model.PlatformUnknown}, err
	}
	guess := model.PlatformGuess{Platform: model.PlatformUnknown}
	info := strings.ToLower(string(resp.Body))
	iosScore := score(info, iosIndicators)
	androidScore := score(info, androidIndicators)
	switch {
	case iosScore > androidScore:
		guess.Platform = model.PlatformIOS
		guess.Hints = append(guess.Hints, fmt.Sprintf("iOS indicators found: %d", iosScore))
	case androidScore > iosScore:
		guess.Platform = model.PlatformAndroid
		guess.Hints = append(guess.Hints, fmt.Sprintf("Android indicators found: %d", androidScore))
	default:
		d.fromLogFiles(ctx, rid, &guess)
	}
	log.Infof("platform detection for rid %s: %s", rid, guess.Platform)
	return guess, nil
}

func score(info string, indicators []string) int {
	n := 0
	for _, indicator := range indicators {
		if strings.Contains(info, indicator) {
			n++
		}
	}
	return n
}

// fromLogFiles is the secondary heuristic: platform-specific names in the
// device's log and performance files. Listing failures leave the guess
// untouched, this is evidence, not a requirement.
func (d *Detector) fromLogFiles(ctx context.Context, rid string, guess *model.PlatformGuess) {
	if d.files == nil {
		return
	}
	files, err := d.files.ListSessionFiles(ctx, rid)
	if err != nil {
		return
	}
	names := make([]string, 0, len(files))
	for _, fd := range files {
		names = append(names, strings.ToLower(fd.File))
	}
	joined := strings.Join(names, "\n")
	switch {
	case strings.Contains(joined, "logcat") || strings.Contains(joined, "adb"):
		guess.Platform = model.PlatformAndroid
		guess.Hints = append(guess.Hints, "Android-specific log files detected")
	case strings.Contains(joined, "syslog") || strings.Contains(joined, "crash"):
		guess.Platform = model.PlatformIOS
		guess.Hints = append(guess.Hints, "iOS-specific log files detected")
	}
}
