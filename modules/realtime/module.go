// Package realtime runs transcode nodes through the realtime media gateway.
// The job is submitted over a Socket.IO channel; the gateway pushes
// phase-tagged progress events and settles the run with a terminal done or
// error event.
package realtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Progress phases of one transcode job.
const (
	PhaseDownload = "download"
	PhaseProcess  = "process"
)

// Gateway protocol events.
const (
	eventSubmit   = "job:submit"
	eventProgress = "job:progress"
	eventDone     = "job:done"
	eventError    = "job:error"
)

const defaultTimeout = 10 * time.Minute

func phases() []progress.Phase {
	return []progress.Phase{
		{ID: PhaseDownload, Weight: 0.1},
		{ID: PhaseProcess, Weight: 0.9},
	}
}

// Config carries the gateway connection settings.
type Config struct {
	// URL is the gateway endpoint, including the Socket.IO path.
	URL string
	// Namespace is the Socket.IO namespace jobs run in.
	Namespace string
	// APIKey authenticates the submit payload.
	APIKey string
	// Timeout bounds one job end to end. Defaults to ten minutes.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool
}

// Module wires the transcode-node invoker.
type Module struct {
	cfg Config
}

// NewModule creates the module with defaults applied.
func NewModule(cfg Config) *Module {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Module{cfg: cfg}
}

// Name identifies the module in logs.
func (m *Module) Name() string { return "realtime" }

// Register installs the invoker for transcode nodes.
func (m *Module) Register(r *capability.Registry) {
	r.RegisterInvoker(workflow.NodeTranscode, &invoker{cfg: m.cfg})
}

type invoker struct {
	cfg Config
}

// Invoke connects to the gateway and returns an operation that settles on
// the job's terminal event.
func (i *invoker) Invoke(ctx context.Context, req *capability.Request) (capability.Operation, error) {
	if i.cfg.URL == "" {
		return nil, errors.New("realtime gateway URL is not configured")
	}
	op := capability.NewAsyncOp(phases()...)
	go i.run(ctx, req, op)
	return op, nil
}

// settlement passes a terminal outcome out of the event handlers.
type settlement struct {
	res *capability.Result
	err error
}

func (i *invoker) run(ctx context.Context, req *capability.Request, op *capability.AsyncOp) {
	logger := ctxlog.FromContext(ctx).With("gateway", i.cfg.URL, "node", req.NodeID)

	parsedURL, err := url.Parse(i.cfg.URL)
	if err != nil {
		op.Reject(fmt.Errorf("failed to parse gateway URL: %w", err))
		return
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if i.cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(i.cfg.Namespace, opts)
	defer io.Disconnect()

	done := make(chan settlement, 1)
	settle := func(s settlement) {
		select {
		case done <- s:
		default:
		}
	}

	io.On(types.EventName("connect"), func(...any) {
		logger.Debug("Gateway connected.", "sid", io.Id())
		op.Emit(PhaseDownload, 0.1)
		io.Emit(eventSubmit, i.submitPayload(req))
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				settle(settlement{err: fmt.Errorf("gateway connection failed: %w", err)})
				return
			}
		}
		settle(settlement{err: errors.New("gateway connection failed")})
	})

	io.On(types.EventName(eventProgress), func(data ...any) {
		m := eventMap(data)
		phase := str(m, "phase")
		if phase == "" {
			phase = PhaseProcess
		}
		op.Emit(phase, num(m, "progress"))
	})

	io.On(types.EventName(eventDone), func(data ...any) {
		m := eventMap(data)
		raw, _ := sonic.MarshalString(m)
		settle(settlement{res: &capability.Result{
			URLs:       strs(m, "outputs"),
			Raw:        raw,
			ModelID:    req.ModelID,
			Cost:       num(m, "cost"),
			DurationMS: int64(num(m, "durationMs")),
		}})
	})

	io.On(types.EventName(eventError), func(data ...any) {
		m := eventMap(data)
		msg := str(m, "message")
		if msg == "" {
			msg = "transcode job failed"
		}
		settle(settlement{err: errors.New(msg)})
	})

	io.Connect()

	jobCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	select {
	case <-jobCtx.Done():
		if ctx.Err() != nil {
			op.Reject(ctx.Err())
		} else {
			op.Reject(fmt.Errorf("timed out after %s waiting for the gateway", i.cfg.Timeout))
		}
	case s := <-done:
		if s.err != nil {
			op.Reject(s.err)
		} else {
			logger.Debug("Transcode job settled.", "outputs", len(s.res.URLs))
			op.Resolve(s.res)
		}
	}
}

func (i *invoker) submitPayload(req *capability.Request) map[string]any {
	return map[string]any{
		"workflowId": req.WorkflowID,
		"nodeId":     req.NodeID,
		"model":      req.ModelID,
		"apiKey":     i.cfg.APIKey,
		"inputs":     req.Inputs,
	}
}
