package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"launchpad.org/internal/events"
	"launchpad.org/internal/obs"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Entry is one persisted event.
type Entry struct {
	ID         string    `gorm:"primaryKey;size:26"`
	Type       string    `gorm:"size:64;index"`
	Instance   string    `gorm:"size:42;index"`
	Account    string    `gorm:"size:42;index"`
	At         time.Time `gorm:"index"`
	Attributes string
}

func (Entry) TableName() string { return "event_journal" }

// Journal is an append-only event log on SQLite. It implements events.Emitter.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type     string
	Account  string
	Instance string
	// After returns only entries with an id greater than this one.
	After string
	Limit int
}

// Open opens (creating if needed) the journal at path. Use ":memory:" or a
// "file::memory:" DSN for an ephemeral journal.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Emit appends e. Failures are logged and do not interrupt the engines.
func (j *Journal) Emit(e events.Event) {
	if err := j.Append(context.Background(), events.NewRecord(e, j.now())); err != nil {
		obs.Logger().Warn("journal append failed", zap.String("event", e.EventType()), zap.Error(err))
	}
}

// Append persists rec.
func (j *Journal) Append(ctx context.Context, rec events.Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return err
	}
	entry := Entry{
		ID:         rec.ID,
		Type:       rec.Type,
		Instance:   instanceOf(rec.Attributes),
		Account:    rec.Attributes["account"],
		At:         rec.At.UTC(),
		Attributes: string(attrs),
	}
	return j.db.WithContext(ctx).Create(&entry).Error
}

func instanceOf(attrs map[string]string) string {
	for _, k := range []string{"sale", "raffle", "instance"} {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}

// List returns entries matching f in id order.
func (j *Journal) List(ctx context.Context, f Filter) ([]events.Record, error) {
	q := j.db.WithContext(ctx).Model(&Entry{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Account != "" {
		q = q.Where("account = ?", f.Account)
	}
	if f.Instance != "" {
		q = q.Where("instance = ?", f.Instance)
	}
	if f.After != "" {
		q = q.Where("id > ?", f.After)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var rows []Entry
	if err := q.Order("id asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]events.Record, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("decode entry %s: %w", row.ID, err)
			}
		}
		out = append(out, events.Record{ID: row.ID, Type: row.Type, At: row.At.UTC(), Attributes: attrs})
	}
	return out, nil
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	err := j.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error
	return n, err
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
