// Package adb executes ADB commands on a booked Android device and
// normalizes the backend's inconsistently keyed reply envelopes.
package adb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/envelope"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

// ErrEmptyCommand means nothing was attempted.
var ErrEmptyCommand = errors.New("adb command cannot be empty")

// commandTimeout is wider than the default request timeout; shell commands
// routinely take longer than control-plane calls.
const commandTimeout = 120 * time.Second

// PlatformDetector is the advisory platform guess used to refuse ADB on
// iOS devices.
type PlatformDetector interface {
	Detect(ctx context.Context, rid string) (model.PlatformGuess, error)
}

type Executor struct {
	gw       gateway.Gateway
	tokens   *auth.TokenManager
	baseURL  string
	detector PlatformDetector
}

func NewExecutor(gw gateway.Gateway, tokens *auth.TokenManager, baseURL string, detector PlatformDetector) *Executor {
	return &Executor{gw: gw, tokens: tokens, baseURL: baseURL, detector: detector}
}

type Options struct {
	// PlatformOverride skips detection entirely. The heuristic guess is
	// never authoritative; a caller who knows the platform always wins.
	PlatformOverride model.Platform
}

// NormalizeCommand strips surrounding quotes and guarantees the "adb "
// prefix the backend expects.
func NormalizeCommand(command string) string {
	command = strings.TrimSpace(command)
	command = strings.Trim(command, `"'`)
	if !strings.HasPrefix(strings.ToLower(command), "adb ") {
		command = "adb " + command
	}
	return command
}

// ExecuteCommand runs an ADB command on the device booked under rid and
// returns the normalized result. An iOS guess refuses execution unless the
// caller overrides the platform; an unknown guess proceeds, since the
// detector is advisory only.
func (e *Executor) ExecuteCommand(ctx context.Context, rid, command string, opts Options) (model.CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return model.CommandResult{}, ErrEmptyCommand
	}
	platform := opts.PlatformOverride
	if platform == "" && e.detector != nil {
		if guess, err := e.detector.Detect(ctx, rid); err == nil {
			platform = guess.Platform
		}
	}
	if platform == model.PlatformIOS {
		return model.CommandResult{}, fmt.Errorf("adb is not available on iOS devices; pass a platform override if detection is wrong")
	}
	stripped := strings.Trim(strings.TrimSpace(command), `"'`)
	send := NormalizeCommand(command)
	if !strings.HasPrefix(strings.ToLower(stripped), "adb ") {
		log.Infof("added 'adb' prefix: sending %q to backend", send)
	}
	log.Infof("executing adb command on rid %s: %s", rid, send)
	resp, err := e.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return e.gw.Do(ctx, gateway.Request{
			Method:  http.MethodPost,
			URL:     e.baseURL + "/execute_adb",
			JSON:    map[string]any{"token": token, "rid": rid, "adbCommand": send},
			Timeout: commandTimeout,
		})
	})
	if err != nil {
		return model.CommandResult{Command: send}, err
	}
	raw, err := resp.JSONMap()
	if err != nil {
		return model.CommandResult{Command: send}, fmt.Errorf("unexpected response format: %w", err)
	}
	result := envelope.ExtractCommandOutput(raw)
	result.Command = send
	if result.Succeeded {
		log.Infof("adb command successful, output source: %s, length: %d", result.OutputSource, len(result.Output))
	} else {
		log.Errorf("adb command failed: %s", result.Output)
	}
	return result, nil
}
