package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"github.com/tmshv/rfpharvest/internal"
)

// JSONSink writes the batch artifact to Path. The file is replaced
// atomically, so readers see either the previous artifact or the new one.
type JSONSink struct {
	Path string
}

func (s JSONSink) Save(ctx context.Context, batch *internal.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", internal.ErrPersistFailure, err)
	}

	data, err := json.MarshalIndent(batch.Artifact(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode artifact: %w", internal.ErrPersistFailure, err)
	}
	data = append(data, '\n')

	if err := renameio.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", internal.ErrPersistFailure, err)
	}
	return nil
}

// ReadArtifact loads an artifact written by JSONSink.
func ReadArtifact(path string) (internal.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return internal.Artifact{}, err
	}
	var art internal.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return internal.Artifact{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if art.RFPs == nil {
		art.RFPs = []internal.Record{}
	}
	return art, nil
}
