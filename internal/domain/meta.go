package domain

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DecodeSourceMeta decodes the raw metadata map into its typed view.
// Timestamps are stored as RFC3339 strings in the JSONB column.
func DecodeSourceMeta(raw JSONBMap) (SourceMeta, error) {
	var meta SourceMeta

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		Result: &meta,
	})
	if err != nil {
		return SourceMeta{}, fmt.Errorf("build metadata decoder: %w", err)
	}

	if decodeErr := decoder.Decode(map[string]any(raw)); decodeErr != nil {
		return SourceMeta{}, fmt.Errorf("decode source metadata: %w", decodeErr)
	}

	return meta, nil
}

// MetaPatch is a partial update of the metadata map. Keys with nil values are
// removed; all other keys are set. Keys absent from the patch are untouched.
type MetaPatch map[string]any

// MetaTime formats a timestamp for storage in the metadata map.
func MetaTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// TransientFailuresToMeta converts a transient-failure list to its raw
// metadata representation.
func TransientFailuresToMeta(failures []TransientFailure) []any {
	out := make([]any, 0, len(failures))
	for _, f := range failures {
		out = append(out, map[string]any{
			"timestamp": MetaTime(f.Timestamp),
			"code":      f.Code,
		})
	}
	return out
}
