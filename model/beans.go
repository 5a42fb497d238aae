package model

import "time"

// Credential is the account pair used for basic-auth against the pCloudy
// access endpoint. Loaded once from configuration; a missing pair is a
// configuration error, not a runtime one.
type Credential struct {
	Username string
	APIKey   string
}

func (c Credential) Complete() bool {
	return c.Username != "" && c.APIKey != ""
}

// Session holds the opaque auth token and the time it was issued. Owned by
// auth.TokenManager and replaced wholesale on every refresh.
type Session struct {
	Token    string
	IssuedAt time.Time
}

// Fresh reports whether the session is still considered valid client-side.
// The server remains the authority; a fresh session can still be rejected.
func (s Session) Fresh(now time.Time, threshold time.Duration) bool {
	return s.Token != "" && now.Sub(s.IssuedAt) < threshold
}

// FileDescriptor is one entry of a remote file listing (cloud drive or
// device session data). Size and Kind come back as loosely typed strings.
type FileDescriptor struct {
	File string
	Size string
	Kind string
}

// TransferOutcome records the result of one file download. Err is empty on
// success; a failed file keeps its slot in the bulk report instead of
// aborting the remaining downloads.
type TransferOutcome struct {
	File      string
	LocalPath string
	Size      string
	Kind      string
	Err       string
}

func (o TransferOutcome) OK() bool { return o.Err == "" }

// CommandResult is the canonical shape produced from the backend's
// inconsistently keyed command envelopes.
type CommandResult struct {
	Succeeded    bool
	Command      string
	Output       string
	OutputSource string
	StatusCode   int
	Message      string
	Raw          map[string]any
}

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformUnknown Platform = "unknown"
)

// PlatformGuess is advisory only. Consumers must treat unknown as "ask the
// caller" and never gate destructive behavior on it without an override.
type PlatformGuess struct {
	Platform Platform
	Hints    []string
}
