// Package history persists per-node execution records: an append-only log of
// what ran, with what fingerprints, what it produced, and what it cost.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/nodestate"
)

// RefreshDebounce is the minimum interval between history refreshes while a
// node is running. Polling surfaces coalesce updates to this rate.
const RefreshDebounce = 1500 * time.Millisecond

// ErrRecordNotFound is returned when a record id is unknown.
var ErrRecordNotFound = errors.New("execution record not found")

// RecordStatus is the terminal outcome a record captures.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordError     RecordStatus = "error"
)

// ResultMetadata carries the displayable outcome of a run.
type ResultMetadata struct {
	ResultURLs []string `json:"resultUrls,omitempty"`
	Error      string   `json:"error,omitempty"`
	Raw        string   `json:"raw,omitempty"`
	ModelID    string   `json:"modelId,omitempty"`
}

// Record is one execution of one node. Records are append-only: reruns add
// new records rather than mutating old ones.
type Record struct {
	ID             string          `json:"id"`
	NodeID         string          `json:"nodeId"`
	WorkflowID     string          `json:"workflowId,omitempty"`
	InputHash      string          `json:"inputHash,omitempty"`
	ParamsHash     string          `json:"paramsHash,omitempty"`
	Status         RecordStatus    `json:"status"`
	ResultPath     string          `json:"resultPath,omitempty"`
	ResultMetadata *ResultMetadata `json:"resultMetadata,omitempty"`
	DurationMS     int64           `json:"durationMs,omitempty"`
	Cost           float64         `json:"cost,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`

	// Synthetic marks a record reconstructed from in-memory node state
	// rather than read from the store. Synthetic records are never persisted.
	Synthetic bool `json:"-"`
}

// PrimaryURL returns the record's first result URL, falling back to the
// locally saved path.
func (r *Record) PrimaryURL() string {
	if r.ResultMetadata != nil && len(r.ResultMetadata.ResultURLs) > 0 {
		return r.ResultMetadata.ResultURLs[0]
	}
	return r.ResultPath
}

// Store persists execution records. Implementations must keep ListByNode
// ordered newest first.
type Store interface {
	// Append inserts a record, assigning an id and timestamp when absent.
	Append(ctx context.Context, rec *Record) error
	// Record fetches one record by id.
	Record(ctx context.Context, id string) (*Record, error)
	// ListByNode returns a node's records, newest first.
	ListByNode(ctx context.Context, nodeID string) ([]*Record, error)
	// Delete removes one record and returns it, so callers can clean up
	// artifacts the record pointed at.
	Delete(ctx context.Context, id string) (*Record, error)
	// DeleteByNode removes all of a node's records and returns them.
	DeleteByNode(ctx context.Context, nodeID string) ([]*Record, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// Synthesize reconstructs a record from a node's in-memory result. Used when
// a node carries a restored result but the store has no rows for it, so the
// history panel still has something to show.
func Synthesize(nodeID, workflowID string, res *nodestate.Result) *Record {
	if res == nil {
		return nil
	}
	return &Record{
		ID:         uuid.NewString(),
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Status:     RecordCompleted,
		ResultPath: res.LocalPath,
		ResultMetadata: &ResultMetadata{
			ResultURLs: res.URLs,
			Raw:        res.Raw,
			ModelID:    res.ModelID,
		},
		DurationMS: res.DurationMS,
		Cost:       res.Cost,
		CreatedAt:  res.CompletedAt,
		Synthetic:  true,
	}
}

// ListWithFallback lists a node's records, synthesizing one from the node's
// in-memory result when the store is empty for that node.
func ListWithFallback(ctx context.Context, s Store, nodeID, workflowID string, res *nodestate.Result) ([]*Record, error) {
	recs, err := s.ListByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 || res == nil {
		return recs, nil
	}
	return []*Record{Synthesize(nodeID, workflowID, res)}, nil
}

// CanClearAll reports whether a record list holds anything actually stored.
// A list of only synthetic records has nothing to clear.
func CanClearAll(recs []*Record) bool {
	for _, r := range recs {
		if !r.Synthetic {
			return true
		}
	}
	return false
}

// HiddenIDs normalizes the persisted hidden-run param value. Params travel
// through JSON, so the slice may arrive as []any.
func HiddenIDs(v any) []string {
	switch ids := v.(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// VisibleRecords filters a newest-first record list for display: hidden run
// ids are dropped, and latest-only mode keeps just the newest survivor.
func VisibleRecords(recs []*Record, hidden []string, latestOnly bool) []*Record {
	hiddenSet := make(map[string]struct{}, len(hidden))
	for _, id := range hidden {
		hiddenSet[id] = struct{}{}
	}
	out := make([]*Record, 0, len(recs))
	for _, r := range recs {
		if _, hide := hiddenSet[r.ID]; hide {
			continue
		}
		out = append(out, r)
		if latestOnly {
			break
		}
	}
	return out
}
