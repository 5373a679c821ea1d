// Package serialization renders job parameters for logs and notifications with sensitive
// values masked.
package serialization

import (
	"encoding/json"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Mask replaces the value of every listed key that is present.
const Mask = "********"

// MaskParameters returns a copy of params with the values of keys masked.
func MaskParameters(params map[string]interface{}, keys []string) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range keys {
		if _, ok := masked[key]; ok {
			masked[key] = Mask
		}
	}
	return masked
}

// MarshalMaskedParameters encodes params as JSON after masking keys. Keys are sorted by
// encoding/json.
func MarshalMaskedParameters(params map[string]interface{}, keys []string) ([]byte, error) {
	data, err := json.Marshal(MaskParameters(params, keys))
	if err != nil {
		return nil, exception.NewBatchError("serialization", "failed to encode job parameters", err, false, false)
	}
	return data, nil
}
