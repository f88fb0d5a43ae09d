package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/models"
)

const uniqueViolation = "23505"

// GormStore implements Store on PostgreSQL using GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM event store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveEvents verifies the current head version and inserts the batch in one
// transaction. The unique (aggregate_id, version) index catches writers that
// race past the head check.
func (s *GormStore) SaveEvents(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	if err := validateBatch(aggregateID, events, expectedVersion); err != nil {
		return err
	}

	rows := make([]models.Event, 0, len(events))
	now := time.Now().UTC()
	for i, evt := range events {
		version := expectedVersion + i + 1
		evt.Metadata.Version = version

		data, err := json.Marshal(evt.Data)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal %s payload", evt.EventType)
		}
		metadata, err := json.Marshal(evt.Metadata)
		if err != nil {
			return errors.Wrap(err, "failed to marshal event metadata")
		}

		rows = append(rows, models.Event{
			EventID:       evt.EventID,
			AggregateID:   aggregateID,
			AggregateType: evt.AggregateType,
			EventType:     evt.EventType,
			Version:       version,
			Data:          data,
			Metadata:      metadata,
			Timestamp:     now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&models.Event{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&current).Error; err != nil {
			return errors.Wrap(err, "failed to read current version")
		}

		if current != expectedVersion {
			return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: current}
		}

		if err := tx.Create(&rows).Error; err != nil {
			if isUniqueViolation(err) {
				return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: -1}
			}
			return errors.Wrap(err, "failed to save events")
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("aggregateID", aggregateID).
		Int("fromVersion", expectedVersion+1).
		Int("count", len(rows)).
		Msg("Events saved")
	return nil
}

func (s *GormStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]StoredEvent, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load events for %s", aggregateID)
	}
	return toStoredEvents(rows)
}

func (s *GormStore) GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	q := s.db.WithContext(ctx).
		Where("id > ?", fromPosition).
		Order("id ASC, version ASC")
	return s.page(q, limit)
}

func (s *GormStore) GetEventsByType(ctx context.Context, eventType string, fromPosition int64, limit int) ([]StoredEvent, error) {
	q := s.db.WithContext(ctx).
		Where("event_type = ? AND id > ?", eventType, fromPosition).
		Order("id ASC, version ASC")
	return s.page(q, limit)
}

func (s *GormStore) page(q *gorm.DB, limit int) ([]StoredEvent, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Event
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read event feed")
	}
	return toStoredEvents(rows)
}

func (s *GormStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	row := models.Snapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         snapshot.State,
		CreatedAt:     time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "aggregate_id"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "created_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(err, "failed to save snapshot for %s", snapshot.AggregateID)
	}
	return nil
}

func (s *GormStore) GetLatestSnapshot(ctx context.Context, aggregateID string, maxVersion int) (*Snapshot, error) {
	var rows []models.Snapshot
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version <= ?", aggregateID, maxVersion).
		Order("version DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load snapshot for %s", aggregateID)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &Snapshot{
		AggregateID:   row.AggregateID,
		AggregateType: row.AggregateType,
		Version:       row.Version,
		State:         row.State,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func (s *GormStore) GetUnpublishedEvents(ctx context.Context, olderThan time.Time, limit int) ([]StoredEvent, error) {
	q := s.db.WithContext(ctx).
		Where("published = ? AND timestamp < ?", false, olderThan).
		Order("id ASC")
	return s.page(q, limit)
}

func (s *GormStore) MarkEventsPublished(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id IN ?", eventIDs).
		Updates(map[string]interface{}{"published": true, "published_at": now}).Error; err != nil {
		return errors.Wrap(err, "failed to mark events as published")
	}
	return nil
}

func toStoredEvents(rows []models.Event) ([]StoredEvent, error) {
	out := make([]StoredEvent, 0, len(rows))
	for _, row := range rows {
		se, err := toStoredEvent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, nil
}

func toStoredEvent(row models.Event) (StoredEvent, error) {
	payload, err := domain.DecodePayload(row.EventType, row.Data)
	if err != nil {
		return StoredEvent{}, errors.Wrapf(err, "failed to decode event %s", row.EventID)
	}

	var meta domain.Metadata
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return StoredEvent{}, errors.Wrapf(err, "failed to decode metadata of event %s", row.EventID)
		}
	}
	meta.Version = row.Version

	return StoredEvent{
		ID:        row.ID,
		Version:   row.Version,
		Timestamp: row.Timestamp,
		Published: row.Published,
		Event: domain.Event{
			EventID:       row.EventID,
			EventType:     row.EventType,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			Data:          payload,
			Metadata:      meta,
		},
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

var _ Store = (*GormStore)(nil)
