// Package store persists harvest batches.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/internal"
)

type Sink interface {
	Save(ctx context.Context, batch *internal.Batch) error
}

// Multi saves a batch to Primary and then to every archive. A Primary
// failure is returned; archive failures are only logged.
type Multi struct {
	Primary  Sink
	Archives []Sink
	Logger   *zap.Logger
}

func (m Multi) Save(ctx context.Context, batch *internal.Batch) error {
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var result *multierror.Error
	primaryErr := m.Primary.Save(ctx, batch)
	if primaryErr != nil {
		log.Error("Failed to write artifact", zap.Error(primaryErr))
		result = multierror.Append(result, primaryErr)
	}

	for i, s := range m.Archives {
		if err := s.Save(ctx, batch); err != nil {
			log.Warn("Archive failed", zap.Int("archive", i), zap.String("type", fmt.Sprintf("%T", s)), zap.Error(err))
			result = multierror.Append(result, err)
		}
	}

	if primaryErr == nil {
		return nil
	}
	if errors.Is(primaryErr, internal.ErrPersistFailure) {
		return result.ErrorOrNil()
	}
	return fmt.Errorf("%w: %w", internal.ErrPersistFailure, result)
}
