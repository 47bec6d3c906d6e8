// Package assets manages run artifacts: files saved under a local managed
// directory, addressed by local-asset:// references, and uploads of local
// files to remote storage over HTTP.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Manager stores artifacts under root/<workflowID>/<nodeID>/<filename> and
// resolves local-asset:// references back to paths.
type Manager struct {
	root   string
	client *http.Client
}

// New creates a manager over the given directory. A nil client falls back to
// a plain http.Client shared by all uploads.
func New(root string, client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{root: root, client: client}
}

// Root returns the managed directory.
func (m *Manager) Root() string { return m.root }

// SaveFile writes data under the workflow's node directory and returns the
// local-asset:// reference addressing it. An occupied filename gets a numeric
// suffix instead of being overwritten, so repeated runs keep every artifact.
func (m *Manager) SaveFile(ctx context.Context, workflowID, nodeID, filename string, data []byte) (string, error) {
	logger := ctxlog.FromContext(ctx)

	name := filepath.Base(filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("save file: unusable filename '%s'", filename)
	}
	if err := validSegment(workflowID); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}
	if err := validSegment(nodeID); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}

	dir := filepath.Join(m.root, workflowID, nodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory '%s': %w", dir, err)
	}

	name, path, err := vacantName(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write asset '%s': %w", path, err)
	}

	ref := workflow.SchemeLocalAsset + strings.Join([]string{workflowID, nodeID, name}, "/")
	logger.Debug("Asset saved.", "ref", ref, "bytes", len(data))
	return ref, nil
}

// UploadFile sends a local file to the given URL with an HTTP PUT. The
// content type is derived from the file extension.
func (m *Manager) UploadFile(ctx context.Context, localPath, uploadURL string) error {
	logger := ctxlog.FromContext(ctx)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file '%s': %w", localPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	logger.Info("Uploading file.", "source", localPath, "size", len(data), "contentType", contentType)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload failed with status: %s", resp.Status)
	}
	logger.Info("Upload finished.", "status", resp.Status)
	return nil
}

// Remove deletes the artifact a local-asset:// reference points at. Foreign
// references and already-gone files are not errors; cleanup is best-effort.
func (m *Manager) Remove(ctx context.Context, ref string) error {
	if !strings.HasPrefix(ref, workflow.SchemeLocalAsset) {
		return nil
	}
	path, err := m.Resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove asset '%s': %w", ref, err)
	}
	ctxlog.FromContext(ctx).Debug("Asset removed.", "ref", ref)
	return nil
}

// Resolve maps a local-asset:// reference to its path under the managed
// directory. References escaping the directory are rejected.
func (m *Manager) Resolve(ref string) (string, error) {
	rel, ok := strings.CutPrefix(ref, workflow.SchemeLocalAsset)
	if !ok || rel == "" {
		return "", fmt.Errorf("not a local asset reference: '%s'", ref)
	}
	for _, seg := range strings.Split(rel, "/") {
		if err := validSegment(seg); err != nil {
			return "", fmt.Errorf("asset reference '%s': %w", ref, err)
		}
	}
	return filepath.Join(m.root, filepath.FromSlash(rel)), nil
}

func validSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." ||
		strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("unusable path segment '%s'", seg)
	}
	return nil
}

// vacantName finds an unoccupied filename in dir, suffixing "-1", "-2", ...
// before the extension when the base name is taken.
func vacantName(dir, name string) (string, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return candidate, path, nil
		} else if err != nil {
			return "", "", fmt.Errorf("failed to probe asset path '%s': %w", path, err)
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
