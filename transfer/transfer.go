// Package transfer drives session-data downloads: listing the remote file
// set for a booked device and fetching each file independently, with
// per-file failure isolation and deterministic local name collision
// handling.
package transfer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/envelope"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

type ErrorKind int

const (
	ErrListingFailed ErrorKind = iota + 1
	ErrInvalidFilename
	ErrDownloadFailed
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

var invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// ValidFilename rejects empty names, path traversal and characters that are
// special on common filesystems. Checked before any I/O.
func ValidFilename(name string) bool {
	return name != "" && !invalidFilenameChars.MatchString(name) && !strings.Contains(name, "..")
}

// ResolveCollision returns the first free path for name inside dir,
// appending _1, _2, ... before the extension until no file exists there.
// Applied per file at write time so concurrent bulk downloads never
// overwrite one another.
func ResolveCollision(dir, name string) string {
	p := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
		p = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}

type Orchestrator struct {
	gw      gateway.Gateway
	tokens  *auth.TokenManager
	baseURL string
}

func NewOrchestrator(gw gateway.Gateway, tokens *auth.TokenManager, baseURL string) *Orchestrator {
	return &Orchestrator{gw: gw, tokens: tokens, baseURL: baseURL}
}

// DefaultDir is where session files land when the caller does not pick a
// destination.
func (o *Orchestrator) DefaultDir(rid string) string {
	return filepath.Join(os.TempDir(), "pcloudy_downloads", "session_"+rid)
}

// ListSessionFiles fetches the remote file set for a device. All-or-nothing:
// a non-200 envelope fails the whole listing.
func (o *Orchestrator) ListSessionFiles(ctx context.Context, rid string) ([]model.FileDescriptor, error) {
	resp, err := o.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return o.gw.Do(ctx, gateway.Request{
			Method: http.MethodPost,
			URL:    o.baseURL + "/manual_access_files_list",
			JSON:   map[string]any{"token": token, "rid": rid},
		})
	})
	if err != nil {
		return nil, err
	}
	result, err := envelope.ParseResult(resp.Body)
	if err != nil {
		return nil, err
	}
	if code, _ := result["code"].(float64); int(code) != 200 {
		msg, _ := result["msg"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		log.Errorf("failed to list session files: %s", msg)
		return nil, &Error{Kind: ErrListingFailed, Message: "failed to list session files: " + msg}
	}
	return envelope.FileList(result), nil
}

// DownloadSingle fetches one named session file. Unlike the bulk path, a
// failure here is surfaced as an error to the caller.
func (o *Orchestrator) DownloadSingle(ctx context.Context, rid, filename, dir string) (model.TransferOutcome, error) {
	if !ValidFilename(filename) {
		log.Errorf("invalid filename for download: %q", filename)
		return model.TransferOutcome{File: filename}, &Error{Kind: ErrInvalidFilename, Message: fmt.Sprintf("invalid filename: %s", filename)}
	}
	if dir == "" {
		dir = o.DefaultDir(rid)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.TransferOutcome{File: filename}, err
	}
	return o.fetchFile(ctx, rid, model.FileDescriptor{File: filename}, dir)
}

// Report aggregates a bulk download. Partial failure is an expected outcome:
// the run only counts as a hard error when nothing succeeded.
type Report struct {
	Dir       string
	Outcomes  []model.TransferOutcome
	Succeeded int
	Failed    int
}

func (r *Report) IsError() bool { return r.Succeeded == 0 && r.Failed > 0 }

// DownloadAll lists the device's session files and downloads them
// sequentially. Each file's failure is recorded in its outcome without
// aborting the rest, so outcome order always matches listing order.
func (o *Orchestrator) DownloadAll(ctx context.Context, rid, dir string) (*Report, error) {
	if dir == "" {
		dir = o.DefaultDir(rid)
	}
	files, err := o.ListSessionFiles(ctx, rid)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	report := &Report{Dir: dir}
	total := len(files)
	log.Infof("found %d files to download for rid %s", total, rid)
	for i, fd := range files {
		if fd.File == "" {
			log.Warnf("skipping file %d/%d: no filename provided", i+1, total)
			continue
		}
		log.Infof("downloading file %d/%d: %s", i+1, total, fd.File)
		out, err := o.fetchFile(ctx, rid, fd, dir)
		if err != nil {
			log.Errorf("failed to download %s: %v", fd.File, err)
			report.Failed++
		} else {
			report.Succeeded++
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	log.Infof("bulk download completed: %d success, %d failures", report.Succeeded, report.Failed)
	return report, nil
}

func (o *Orchestrator) fetchFile(ctx context.Context, rid string, fd model.FileDescriptor, dir string) (model.TransferOutcome, error) {
	fail := func(err error) (model.TransferOutcome, error) {
		return model.TransferOutcome{File: fd.File, Err: err.Error()}, err
	}
	resp, err := o.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return o.gw.Do(ctx, gateway.Request{
			Method: http.MethodPost,
			URL:    o.baseURL + "/download_manual_access_data",
			JSON:   map[string]any{"token": token, "rid": rid, "filename": fd.File},
		})
	})
	if err != nil {
		return fail(err)
	}
	if resp.Status != http.StatusOK {
		return fail(&Error{Kind: ErrDownloadFailed, Message: fmt.Sprintf("download of %s failed with status %d", fd.File, resp.Status)})
	}
	if resp.IsJSON() {
		// the server explains itself in JSON when it cannot serve the file
		detail := strings.TrimSpace(string(resp.Body))
		if result, perr := envelope.ParseResult(resp.Body); perr == nil {
			if msg, _ := result["msg"].(string); msg != "" {
				detail = msg
			}
		}
		return fail(&Error{Kind: ErrDownloadFailed, Message: fmt.Sprintf("download of %s returned JSON instead of file content: %s", fd.File, detail)})
	}
	localPath := ResolveCollision(dir, fd.File)
	if err := os.WriteFile(localPath, resp.Body, 0o644); err != nil {
		return fail(&Error{Kind: ErrDownloadFailed, Message: fmt.Sprintf("write %s: %v", localPath, err)})
	}
	log.Infof("downloaded %q to %s", fd.File, localPath)
	return model.TransferOutcome{File: fd.File, LocalPath: localPath, Size: fd.Size, Kind: fd.Kind}, nil
}
