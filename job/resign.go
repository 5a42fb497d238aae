package job

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

// AppLister is the slice of the cloud drive the duplicate guard needs.
type AppLister interface {
	ListApps(ctx context.Context, limit int, filter string) ([]model.FileDescriptor, error)
}

// ResignOutcome is the structured result of a resign run. Duplicate and
// TimedOut are first-class outcomes, not errors.
type ResignOutcome struct {
	Resource     string
	ResignedFile string
	Duplicate    bool
	Existing     string
	TimedOut     bool
}

// ResignWorkflow resigns an IPA already present in the cloud drive:
// duplicate guard, initiate, bounded polling, result fetch.
type ResignWorkflow struct {
	runner      *Runner
	apps        AppLister
	maxAttempts int
	interval    time.Duration
}

func NewResignWorkflow(gw gateway.Gateway, tokens *auth.TokenManager, baseURL string, apps AppLister) *ResignWorkflow {
	return &ResignWorkflow{
		runner:      NewRunner(gw, tokens, ResignEndpoints(baseURL)),
		apps:        apps,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultPollInterval,
	}
}

// expectedResignedNames derives the filenames the backend is known to use
// for a resigned copy. Substring-matched case-insensitively against the
// drive listing.
func expectedResignedNames(filename string) []string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return []string{
		base + "_resign.ipa",
		base + "-resign.ipa",
		"resign_" + base + ".ipa",
		filename + "_resign",
		"resign_" + filename,
	}
}

// Run executes the resign workflow for filename. Unless force is set, an
// existing resigned copy short-circuits the run instead of re-running the
// expensive remote job. After a poll timeout the fetch is still attempted:
// the job may have finished server-side.
func (w *ResignWorkflow) Run(ctx context.Context, filename string, force bool) (*ResignOutcome, error) {
	if !force {
		if existing := w.findExistingResign(ctx, filename); existing != "" {
			log.Warnf("resigned version %q already exists in cloud, use force to override", existing)
			return &ResignOutcome{Resource: filename, Duplicate: true, Existing: existing}, nil
		}
	}
	h, err := w.runner.Initiate(ctx, filename)
	if err != nil {
		return nil, err
	}
	log.Infof("resigning IPA %q, this may take up to 60 seconds", filename)
	h, err = w.runner.PollUntilDone(ctx, h, w.maxAttempts, w.interval)
	if err != nil {
		return nil, err
	}
	ref, err := w.runner.FetchResult(ctx, h)
	if err != nil {
		return nil, err
	}
	if force {
		log.Infof("IPA file %q has been resigned successfully (replaced existing resigned version)", filename)
	} else {
		log.Infof("IPA file %q has been resigned successfully", filename)
	}
	return &ResignOutcome{Resource: filename, ResignedFile: ref, TimedOut: h.Status == StatusTimedOut}, nil
}

func (w *ResignWorkflow) findExistingResign(ctx context.Context, filename string) string {
	apps, err := w.apps.ListApps(ctx, 100, "all")
	if err != nil {
		// guard is best effort, the workflow proceeds without it
		log.Warnf("could not check for existing resigned files: %v", err)
		return ""
	}
	names := make([]string, 0, len(apps))
	for _, app := range apps {
		names = append(names, strings.ToLower(app.File))
	}
	joined := strings.Join(names, "\n")
	for _, candidate := range expectedResignedNames(filename) {
		if strings.Contains(joined, strings.ToLower(candidate)) {
			return candidate
		}
	}
	return ""
}
