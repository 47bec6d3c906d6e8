// Package fileout serves file-output nodes: the resolved upstream artifact
// is fetched and written into local asset storage, and the run settles with
// the local reference.
package fileout

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/assets"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Progress phases of one save.
const (
	PhaseDownload = "download"
	PhaseSave     = "save"
)

// sourceKeys are the input keys probed for the artifact to save, in order.
var sourceKeys = []string{"file", "media", "image", "video", "audio", "url"}

func phases() []progress.Phase {
	return []progress.Phase{
		{ID: PhaseDownload, Weight: 0.9},
		{ID: PhaseSave, Weight: 0.1},
	}
}

// Module wires the file-output invoker.
type Module struct {
	assets *assets.Manager
	client *http.Client
}

// NewModule creates the module. A nil client falls back to a plain
// http.Client.
func NewModule(store *assets.Manager, client *http.Client) *Module {
	if client == nil {
		client = &http.Client{}
	}
	return &Module{assets: store, client: client}
}

// Name identifies the module in logs.
func (m *Module) Name() string { return "fileout" }

// Register installs the invoker for file-output nodes.
func (m *Module) Register(r *capability.Registry) {
	r.RegisterInvoker(workflow.NodeFileOutput, &invoker{assets: m.assets, client: m.client})
}

type invoker struct {
	assets *assets.Manager
	client *http.Client
}

// Invoke fetches the connected upstream artifact and saves it.
func (i *invoker) Invoke(ctx context.Context, req *capability.Request) (capability.Operation, error) {
	source := sourceRef(req.Inputs)
	if source == "" {
		return nil, fmt.Errorf("node '%s' has no file to save; connect an upstream result", req.NodeID)
	}
	op := capability.NewAsyncOp(phases()...)
	go i.run(ctx, req, source, op)
	return op, nil
}

func (i *invoker) run(ctx context.Context, req *capability.Request, source string, op *capability.AsyncOp) {
	logger := ctxlog.FromContext(ctx).With("node", req.NodeID)

	op.Emit(PhaseDownload, 0)
	data, name, err := i.fetch(ctx, source, op)
	if err != nil {
		op.Reject(err)
		return
	}
	op.Emit(PhaseDownload, 1)

	if param, ok := req.Inputs["filename"].(string); ok && param != "" {
		name = param
	}
	op.Emit(PhaseSave, 0.5)

	ref, err := i.assets.SaveFile(ctx, req.WorkflowID, req.NodeID, name, data)
	if err != nil {
		op.Reject(err)
		return
	}
	logger.Debug("Artifact saved.", "ref", ref, "bytes", len(data))
	op.Emit(PhaseSave, 1)
	op.Resolve(&capability.Result{
		URLs:      []string{ref},
		LocalPath: ref,
	})
}

// fetch returns the artifact bytes and a suggested filename.
func (i *invoker) fetch(ctx context.Context, source string, op *capability.AsyncOp) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(source, workflow.SchemeHTTP), strings.HasPrefix(source, workflow.SchemeHTTPS):
		return i.download(ctx, source, op)
	case strings.HasPrefix(source, workflow.SchemeLocalAsset):
		path, err := i.assets.Resolve(source)
		if err != nil {
			return nil, "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read local asset '%s': %w", source, err)
		}
		return data, urlFilename(source), nil
	case strings.HasPrefix(source, workflow.SchemeData):
		return decodeDataURI(source)
	default:
		return nil, "", fmt.Errorf("source '%s' is not fetchable", snippetRef(source))
	}
}

func (i *invoker) download(ctx context.Context, source string, op *capability.AsyncOp) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download of '%s' failed: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download of '%s' failed with status: %s", source, resp.Status)
	}

	data, err := readAllReporting(resp.Body, resp.ContentLength, op)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read download body: %w", err)
	}
	return data, urlFilename(source), nil
}

// readAllReporting reads the body, emitting download fractions when the
// total size is known.
func readAllReporting(r io.Reader, total int64, op *capability.AsyncOp) ([]byte, error) {
	if total <= 0 {
		return io.ReadAll(r)
	}
	var buf []byte
	chunk := make([]byte, 64*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			op.Emit(PhaseDownload, float64(len(buf))/float64(total))
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// decodeDataURI unpacks an inline data: value into bytes plus a filename
// derived from the MIME type.
func decodeDataURI(source string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(source, workflow.SchemeData), ",")
	if !ok {
		return nil, "", errors.New("malformed data URI")
	}

	var (
		data []byte
		err  error
	)
	if enc, isBase64 := strings.CutSuffix(meta, ";base64"); isBase64 {
		meta = enc
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data URI: %w", err)
	}

	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(meta); len(exts) > 0 {
		ext = exts[0]
	}
	return data, "output" + ext, nil
}

// sourceRef picks the artifact reference out of the resolved inputs.
func sourceRef(inputs map[string]any) string {
	for _, key := range sourceKeys {
		if s, ok := inputs[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// urlFilename derives a filename from a reference path, defaulting when the
// path carries none.
func urlFilename(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		source = source[:i]
	}
	if _, rest, ok := strings.Cut(source, "://"); ok {
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return "output"
		}
		source = rest[i+1:]
	}
	name := path.Base(source)
	if name == "" || name == "." || name == "/" {
		return "output"
	}
	return name
}

// snippetRef trims an unfetchable value for error messages; inline payloads
// can be huge.
func snippetRef(source string) string {
	if len(source) > 64 {
		return source[:64] + "..."
	}
	return source
}
