// Package wavespeed runs model nodes against the WaveSpeed inference API:
// the resolved inputs are submitted to the model's endpoint, then the
// prediction is polled until it settles. Progress moves through a short
// queue phase and a long process phase.
package wavespeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Progress phases of one prediction.
const (
	PhaseQueue   = "queue"
	PhaseProcess = "process"
)

// Prediction statuses the API reports.
const (
	statusCreated    = "created"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

const (
	defaultBaseURL      = "https://api.wavespeed.ai"
	defaultPollInterval = time.Second
	resultPathFormat    = "/api/v3/predictions/%s/result"
)

func phases() []progress.Phase {
	return []progress.Phase{
		{ID: PhaseQueue, Weight: 0.1},
		{ID: PhaseProcess, Weight: 0.9},
	}
}

// Config carries the API client settings.
type Config struct {
	// BaseURL is the API origin. Defaults to the public endpoint.
	BaseURL string
	// APIKey authenticates requests as a bearer token.
	APIKey string
	// PollInterval is the delay between result polls. Defaults to one second.
	PollInterval time.Duration
	// Client is the HTTP client to use. Defaults to a plain http.Client.
	Client *http.Client
}

// Module wires the model-node invoker.
type Module struct {
	cfg    Config
	models modelschema.Source
}

// NewModule creates the module. The manifest source prices completed runs;
// nil is allowed and records zero cost.
func NewModule(cfg Config, models modelschema.Source) *Module {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Module{cfg: cfg, models: models}
}

// Name identifies the module in logs.
func (m *Module) Name() string { return "wavespeed" }

// Register installs the invoker for model nodes.
func (m *Module) Register(r *capability.Registry) {
	r.RegisterInvoker(workflow.NodeModel, &invoker{cfg: m.cfg, models: m.models})
}

type invoker struct {
	cfg    Config
	models modelschema.Source
}

// Invoke submits the prediction and returns an operation that polls it.
func (i *invoker) Invoke(ctx context.Context, req *capability.Request) (capability.Operation, error) {
	if req.Endpoint == "" {
		return nil, fmt.Errorf("node '%s' has no model endpoint to submit to", req.NodeID)
	}
	op := capability.NewAsyncOp(phases()...)
	go i.run(ctx, req, op)
	return op, nil
}

func (i *invoker) run(ctx context.Context, req *capability.Request, op *capability.AsyncOp) {
	logger := ctxlog.FromContext(ctx).With("model", req.ModelID)

	op.Emit(PhaseQueue, 0.2)
	predictionID, err := i.submit(ctx, req)
	if err != nil {
		op.Reject(err)
		return
	}
	logger.Debug("Prediction submitted.", "prediction", predictionID)
	op.Emit(PhaseQueue, 0.6)

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			op.Reject(ctx.Err())
			return
		case <-ticker.C:
		}

		pred, raw, err := i.poll(ctx, predictionID)
		if err != nil {
			op.Reject(err)
			return
		}

		switch pred.Status {
		case statusCreated:
			op.Emit(PhaseQueue, 1)
		case statusProcessing:
			// The API reports no fractional progress, so the process bar
			// creeps asymptotically between polls until the result lands.
			polls++
			op.Emit(PhaseQueue, 1)
			op.Emit(PhaseProcess, float64(polls)/float64(polls+2))
		case statusCompleted:
			op.Emit(PhaseProcess, 1)
			op.Resolve(&capability.Result{
				URLs:       pred.Outputs,
				Raw:        raw,
				ModelID:    req.ModelID,
				Cost:       i.price(req.ModelID),
				DurationMS: pred.Timings.Inference,
			})
			return
		case statusFailed:
			msg := pred.Error
			if msg == "" {
				msg = "prediction failed"
			}
			op.Reject(errors.New(msg))
			return
		default:
			logger.Debug("Unknown prediction status; still polling.", "status", pred.Status)
		}
	}
}

func (i *invoker) price(modelID string) float64 {
	if i.models == nil {
		return 0
	}
	def, err := i.models.Definition(modelID)
	if err != nil {
		return 0
	}
	return def.CostPerRun
}

type submitResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}

type prediction struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Outputs []string `json:"outputs"`
	Error   string   `json:"error"`
	Timings struct {
		Inference int64 `json:"inference"`
	} `json:"timings"`
}

type predictionResponse struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    prediction `json:"data"`
}

func (i *invoker) submit(ctx context.Context, req *capability.Request) (string, error) {
	body, err := sonic.Marshal(req.Inputs)
	if err != nil {
		return "", fmt.Errorf("failed to encode inputs for '%s': %w", req.NodeID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.BaseURL+req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)

	var out submitResponse
	if err := i.do(httpReq, &out); err != nil {
		return "", fmt.Errorf("submit to '%s' failed: %w", req.Endpoint, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("submit to '%s' returned no prediction id", req.Endpoint)
	}
	return out.Data.ID, nil
}

func (i *invoker) poll(ctx context.Context, predictionID string) (*prediction, string, error) {
	url := i.cfg.BaseURL + fmt.Sprintf(resultPathFormat, predictionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)

	resp, err := i.cfg.Client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("poll of prediction '%s' failed: %w", predictionID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read poll response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("poll of prediction '%s' failed with status %s: %s", predictionID, resp.Status, snippet(raw))
	}
	var out predictionResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, "", fmt.Errorf("failed to decode poll response: %w", err)
	}
	return &out.Data, string(raw), nil
}

func (i *invoker) do(req *http.Request, out any) error {
	resp, err := i.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s: %s", resp.Status, snippet(raw))
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// snippet trims a response body for error messages.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
