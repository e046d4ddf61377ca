package services

import (
	"context"
	"fmt"

	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/storage"
)

// RecordPublisher announces saved records to the export pipeline.
type RecordPublisher interface {
	PublishRecordSaved(ctx context.Context, userID string, year int) error
}

// RecordService persists records and notifies the export worker. It
// satisfies storage.RecordStore so sessions can save through it.
type RecordService struct {
	store     storage.RecordStore
	publisher RecordPublisher
	logger    *log.Logger
}

var _ storage.RecordStore = (*RecordService)(nil)

// NewRecordService wraps store. A nil publisher disables notifications.
func NewRecordService(store storage.RecordStore, publisher RecordPublisher, logger *log.Logger) *RecordService {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &RecordService{
		store:     store,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentStorage),
	}
}

func (s *RecordService) Load(ctx context.Context, userID string, year int) (core.Record, error) {
	return s.store.Load(ctx, userID, year)
}

// Save writes the record first; a publish failure is logged and never fails
// the save.
func (s *RecordService) Save(ctx context.Context, userID string, year int, r core.Record) error {
	if err := s.store.Save(ctx, userID, year, r); err != nil {
		return fmt.Errorf("save record: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.PublishRecordSaved(ctx, userID, year); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish record saved message",
			log.FieldUserID, userID, log.FieldYear, year, log.FieldError, err)
	}
	return nil
}
