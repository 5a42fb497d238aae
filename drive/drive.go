// Package drive talks to the pCloudy cloud drive: the uploaded APK/IPA
// store. Device session files live elsewhere; see package transfer.
package drive

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/envelope"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

type Client struct {
	gw      gateway.Gateway
	tokens  *auth.TokenManager
	baseURL string
}

func NewClient(gw gateway.Gateway, tokens *auth.TokenManager, baseURL string) *Client {
	return &Client{gw: gw, tokens: tokens, baseURL: baseURL}
}

func (c *Client) ListApps(ctx context.Context, limit int, filter string) ([]model.FileDescriptor, error) {
	if limit <= 0 {
		limit = 10
	}
	if filter == "" {
		filter = "all"
	}
	resp, err := c.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return c.gw.Do(ctx, gateway.Request{
			Method: http.MethodPost,
			URL:    c.baseURL + "/drive",
			JSON:   map[string]any{"token": token, "limit": limit, "filter": filter},
		})
	})
	if err != nil {
		return nil, err
	}
	result, err := envelope.ParseResult(resp.Body)
	if err != nil {
		return nil, err
	}
	files := envelope.FileList(result)
	log.Infof("found %d apps in cloud drive", len(files))
	return files, nil
}

type UploadOutcome struct {
	File      string
	Duplicate bool
	Replaced  bool
}

// Upload pushes a local APK/IPA to the cloud drive. Unless force is set, a
// listing check short-circuits when a file of the same name already exists;
// the guard is a cost-control policy, not a correctness requirement.
func (c *Client) Upload(ctx context.Context, filePath string, force bool) (*UploadOutcome, error) {
	filePath = strings.Trim(strings.TrimSpace(filePath), `"'`)
	st, err := os.Stat(filePath)
	if err != nil || st.IsDir() {
		log.Errorf("provided path is not a file: %s", filePath)
		return nil, fmt.Errorf("provided path is not a file: %s", filePath)
	}
	name := filepath.Base(filePath)
	if !force && c.fileExists(ctx, name) {
		log.Warnf("file %q already exists in cloud", name)
		return &UploadOutcome{File: name, Duplicate: true}, nil
	}
	resp, err := c.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		f, oerr := os.Open(filePath)
		if oerr != nil {
			return nil, oerr
		}
		defer f.Close()
		return c.gw.Do(ctx, gateway.Request{
			Method:    http.MethodPost,
			URL:       c.baseURL + "/upload_file",
			Form:      map[string]string{"source_type": "raw", "token": token, "filter": "all"},
			FileField: "file",
			FileName:  name,
			FileBody:  f,
		})
	})
	if err != nil {
		return nil, err
	}
	result, err := envelope.ParseResult(resp.Body)
	if err != nil {
		return nil, err
	}
	uploaded, _ := result["file"].(string)
	if uploaded == "" {
		log.Error("failed to get uploaded file name")
		return nil, fmt.Errorf("failed to get uploaded file name")
	}
	if force {
		log.Infof("file %q uploaded successfully (replaced existing file)", uploaded)
	} else {
		log.Infof("file %q uploaded successfully", uploaded)
	}
	return &UploadOutcome{File: uploaded, Replaced: force}, nil
}

// DownloadFile fetches a cloud-storage file's raw bytes. Device session
// data uses the transfer package instead.
func (c *Client) DownloadFile(ctx context.Context, filename string) ([]byte, error) {
	resp, err := c.tokens.WithRetry(ctx, func(token string) (*gateway.Response, error) {
		return c.gw.Do(ctx, gateway.Request{
			Method:  http.MethodPost,
			URL:     c.baseURL + "/download_file",
			JSON:    map[string]any{"token": token, "filename": filename, "dir": "data"},
			Timeout: 60 * time.Second,
		})
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("download of %s failed with status %d", filename, resp.Status)
	}
	log.Infof("file %q downloaded successfully", filename)
	return resp.Body, nil
}

func (c *Client) fileExists(ctx context.Context, name string) bool {
	apps, err := c.ListApps(ctx, 100, "all")
	if err != nil {
		log.Warnf("could not check for existing files: %v", err)
		return false
	}
	needle := strings.ToLower(name)
	for _, app := range apps {
		if strings.Contains(strings.ToLower(app.File), needle) {
			return true
		}
	}
	return false
}
