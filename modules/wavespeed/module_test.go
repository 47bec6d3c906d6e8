package wavespeed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

func testRequest() *capability.Request {
	return &capability.Request{
		WorkflowID: "wf-test",
		NodeID:     "gen",
		NodeType:   workflow.NodeModel,
		ModelID:    "wavespeed/flux-dev",
		Endpoint:   "/api/v3/wavespeed/flux-dev",
		Inputs:     map[string]any{"prompt": "a lighthouse at dusk", "seed": float64(7)},
	}
}

func testModels(t *testing.T) *modelschema.Catalog {
	t.Helper()
	c := modelschema.NewCatalog()
	require.NoError(t, c.Add(&modelschema.Definition{
		ID: "wavespeed/flux-dev", Endpoint: "/api/v3/wavespeed/flux-dev", CostPerRun: 0.0025,
	}))
	return c
}

func newInvoker(t *testing.T, server *httptest.Server) *invoker {
	t.Helper()
	m := NewModule(Config{
		BaseURL:      server.URL,
		APIKey:       "test-key",
		PollInterval: 5 * time.Millisecond,
		Client:       server.Client(),
	}, testModels(t))
	return &invoker{cfg: m.cfg, models: m.models}
}

func drainEvents(op capability.Operation) []capability.ProgressEvent {
	var events []capability.ProgressEvent
	for {
		select {
		case ev := <-op.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestInvokeSubmitAndPoll(t *testing.T) {
	var (
		gotAuth  string
		gotBody  []byte
		pollHits atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/wavespeed/flux-dev":
			gotAuth = r.Header.Get("Authorization")
			gotBody, _ = io.ReadAll(r.Body)
			io.WriteString(w, `{"code":200,"data":{"id":"pred-1"}}`)
		case "/api/v3/predictions/pred-1/result":
			switch pollHits.Add(1) {
			case 1:
				io.WriteString(w, `{"code":200,"data":{"id":"pred-1","status":"processing"}}`)
			default:
				io.WriteString(w, `{"code":200,"data":{"id":"pred-1","status":"completed",`+
					`"outputs":["https://cdn.wavespeed.ai/out-1.png"],"timings":{"inference":1234}}}`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	inv := newInvoker(t, server)
	op, err := inv.Invoke(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Len(t, op.Phases(), 2)

	res, err := op.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"https://cdn.wavespeed.ai/out-1.png"}, res.URLs)
	assert.Equal(t, int64(1234), res.DurationMS)
	assert.Equal(t, "wavespeed/flux-dev", res.ModelID)
	assert.InDelta(t, 0.0025, res.Cost, 1e-9, "cost comes from the manifest table")
	assert.Contains(t, res.Raw, `"status":"completed"`)

	assert.Equal(t, "Bearer test-key", gotAuth)
	var sent map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &sent))
	assert.Equal(t, "a lighthouse at dusk", sent["prompt"])
	assert.Equal(t, float64(7), sent["seed"])

	events := drainEvents(op)
	require.NotEmpty(t, events)
	assert.Equal(t, PhaseQueue, events[0].Phase)
	last := events[len(events)-1]
	assert.Equal(t, PhaseProcess, last.Phase)
	assert.Equal(t, float64(1), last.Fraction)
}

func TestInvokeFailedPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/wavespeed/flux-dev":
			io.WriteString(w, `{"code":200,"data":{"id":"pred-2"}}`)
		default:
			io.WriteString(w, `{"code":200,"data":{"id":"pred-2","status":"failed","error":"NSFW content detected"}}`)
		}
	}))
	defer server.Close()

	inv := newInvoker(t, server)
	op, err := inv.Invoke(context.Background(), testRequest())
	require.NoError(t, err)

	_, err = op.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NSFW content detected")
}

func TestInvokeSubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	inv := newInvoker(t, server)
	op, err := inv.Invoke(context.Background(), testRequest())
	require.NoError(t, err)

	_, err = op.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit to '/api/v3/wavespeed/flux-dev' failed")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestInvokeMissingEndpoint(t *testing.T) {
	inv := &invoker{cfg: NewModule(Config{}, nil).cfg}
	req := testRequest()
	req.Endpoint = ""

	_, err := inv.Invoke(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model endpoint")
}

func TestInvokeCancelledWhilePolling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/wavespeed/flux-dev":
			io.WriteString(w, `{"code":200,"data":{"id":"pred-3"}}`)
		default:
			io.WriteString(w, `{"code":200,"data":{"id":"pred-3","status":"processing"}}`)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	inv := newInvoker(t, server)
	op, err := inv.Invoke(ctx, testRequest())
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	cancel()

	_, err = op.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterInstallsModelInvoker(t *testing.T) {
	r := capability.NewRegistry()
	r.Use(NewModule(Config{APIKey: "k"}, nil))

	_, ok := r.Invoker(workflow.NodeModel)
	assert.True(t, ok)
}
