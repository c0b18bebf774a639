package status

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("status: record not found")

// SqliteInMemoryDSN opens a private in-memory database.
const SqliteInMemoryDSN = "file::memory:"

// Store persists transfer records.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps an open gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to driver ("mysql" or "sqlite") at dsn.
func Open(driver, dsn string, gormLogger logger.Interface) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("status: unsupported driver %q", driver)
	}

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", driver)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "sqlite handle")
		}
		// one connection avoids table lock errors and keeps in-memory
		// databases alive for the life of the store
		sqlDB.SetMaxOpenConns(1)
	}

	return NewStore(db), nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the uploads table.
func (s *Store) Migrate(ctx context.Context) error {
	return errors.Wrap(s.db.WithContext(ctx).AutoMigrate(&Record{}), "migrate uploads")
}

// Upsert inserts the record for u.ObjectKey or updates it in place, in a
// single statement.
func (s *Store) Upsert(ctx context.Context, u Update) error {
	if u.ObjectKey == "" {
		return errors.New("status: object key is required")
	}
	if !u.Status.Valid() {
		return errors.Errorf("status: invalid state %q", u.Status)
	}

	now := s.now()
	rec := Record{
		ObjectKey:       u.ObjectKey,
		Status:          u.Status,
		FileURL:         nullable(u.FileURL),
		Message:         nullable(truncate(u.Message, MessageLimit)),
		SizeBytes:       u.SizeBytes,
		OriginalURL:     nullable(u.OriginalURL),
		DownloadTimeSec: u.DownloadTimeSec,
		UploadTimeSec:   u.UploadTimeSec,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if u.Retries != nil {
		rec.Retries = *u.Retries
	}

	set := map[string]interface{}{
		"status":            rec.Status,
		"file_url":          arg(rec.FileURL),
		"message":           arg(rec.Message),
		"size_bytes":        rec.SizeBytes,
		"original_url":      gorm.Expr("COALESCE(?, original_url)", arg(rec.OriginalURL)),
		"download_time_sec": rec.DownloadTimeSec,
		"upload_time_sec":   rec.UploadTimeSec,
		"updated_at":        now,
	}
	if u.Retries != nil {
		set["retries"] = rec.Retries
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "object_key"}},
		DoUpdates: clause.Assignments(set),
	}).Create(&rec).Error
	return errors.Wrapf(err, "upsert %s", u.ObjectKey)
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("object_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "get %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return &rec, nil
}

// GetMany returns the records for keys, indexed by object key. Missing keys
// are absent from the map.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]Record, error) {
	out := make(map[string]Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var recs []Record
	if err := s.db.WithContext(ctx).Where("object_key IN ?", keys).Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "get records")
	}
	for _, r := range recs {
		out[r.ObjectKey] = r
	}
	return out, nil
}

// MarkRetry resets key to pending with message "Retry queued" and bumps the
// external retry counter.
func (s *Store) MarkRetry(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("object_key = ?", key).
		Updates(map[string]interface{}{
			"status":     Pending,
			"message":    "Retry queued",
			"retries":    gorm.Expr("COALESCE(retries, 0) + 1"),
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "mark retry %s", key)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "mark retry %s", key)
	}
	return nil
}

// Delete removes the record for key, reporting whether a row existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Where("object_key = ?", key).Delete(&Record{})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "delete %s", key)
	}
	return res.RowsAffected > 0, nil
}
