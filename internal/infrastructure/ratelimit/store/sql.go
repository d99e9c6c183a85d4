package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterRecord is the row layout of the relational backend.
type CounterRecord struct {
	CounterKey string    `gorm:"primaryKey;size:512"`
	Count      int64     `gorm:"column:hit_count;not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

func (CounterRecord) TableName() string { return "flow_limit_counters" }

// SQLStore keeps counters in a relational table. Rows past their expiry are
// treated as absent and overwritten on the next increment. Increments rely on
// INSERT ... ON CONFLICT DO UPDATE ... WHERE, available in sqlite 3.24+ and
// postgres 9.5+.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLStore migrates the counter table and returns the store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&CounterRecord{}); err != nil {
		return nil, fmt.Errorf("migrate counter table: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Kind() Kind { return KindSQL }

func (s *SQLStore) live(ctx context.Context, key string) (*CounterRecord, error) {
	var rec CounterRecord
	err := s.db.WithContext(ctx).Where("counter_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (int64, bool, error) {
	rec, err := s.live(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("sql get %s: %w", key, err)
	}
	if rec == nil {
		return 0, false, nil
	}
	return rec.Count, true, nil
}

func (s *SQLStore) upsert(ctx context.Context, key string, value int64, ttl time.Duration) error {
	rec := CounterRecord{
		CounterKey: key,
		Count:      value,
		ExpiresAt:  s.now().Add(clampTTL(ttl)).UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "counter_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"hit_count", "expires_at"}),
	}).Create(&rec).Error
}

func (s *SQLStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.upsert(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("sql set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("counter_key = ?", key).Delete(&CounterRecord{}).Error
	if err != nil {
		return fmt.Errorf("sql delete %s: %w", key, err)
	}
	return nil
}

// IncrementIfUnderCap is a single upsert. A missing or expired row starts at
// one with a fresh expiry; a live row is incremented only while under limit,
// otherwise the conflict update matches nothing and no row is affected.
func (s *SQLStore) IncrementIfUnderCap(ctx context.Context, key string, ttl time.Duration, limit int64) (bool, error) {
	now := s.now().UTC()
	rec := CounterRecord{CounterKey: key, Count: 1, ExpiresAt: now.Add(clampTTL(ttl))}

	t := CounterRecord{}.TableName()
	expired := t + ".expires_at <= ?"
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "counter_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"hit_count":  gorm.Expr("CASE WHEN "+expired+" THEN 1 ELSE "+t+".hit_count + 1 END", now),
			"expires_at": gorm.Expr("CASE WHEN "+expired+" THEN excluded.expires_at ELSE "+t+".expires_at END", now),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr(expired+" OR "+t+".hit_count < ?", now, limit),
		}},
	}).Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("sql increment %s: %w", key, res.Error)
	}
	return res.RowsAffected == 0, nil
}

// PurgeExpired removes rows whose lifetime has ended and returns how many went.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&CounterRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("sql purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
