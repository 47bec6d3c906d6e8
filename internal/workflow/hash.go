package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
)

// CanonicalHash returns the hex SHA-256 of the canonical JSON encoding of v.
// Map keys are sorted, so two maps with the same entries hash identically
// regardless of insertion order.
func CanonicalHash(v any) (string, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ParamsHash fingerprints a node's execution parameters. Internal keys are
// excluded so toggling presentation state never invalidates a cached run.
func ParamsHash(params map[string]any) (string, error) {
	return CanonicalHash(visibleParams(params))
}

// InputsHash fingerprints the resolved input values a node was executed with.
func InputsHash(inputs map[string]any) (string, error) {
	return CanonicalHash(inputs)
}

func visibleParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if IsInternalParam(k) {
			continue
		}
		out[k] = v
	}
	return out
}
