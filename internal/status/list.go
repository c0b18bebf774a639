package status

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var sortable = map[string]bool{
	"id":                true,
	"object_key":        true,
	"status":            true,
	"size_bytes":        true,
	"retries":           true,
	"created_at":        true,
	"updated_at":        true,
	"download_time_sec": true,
	"upload_time_sec":   true,
}

// ListQuery filters and pages the uploads table.
type ListQuery struct {
	Page   int
	Limit  int
	Status string
	Q      string
	Sort   string // column name; unknown names fall back to id
	Desc   bool
}

// ListResult is one page of records.
type ListResult struct {
	Data     []Record `json:"data"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	Limit    int      `json:"limit"`
	LastPage int      `json:"last_page"`
}

// Normalize applies defaults and bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit < 1 {
		q.Limit = 1
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	q.Q = strings.TrimSpace(q.Q)
	q.Status = strings.TrimSpace(q.Status)
	if !sortable[q.Sort] {
		q.Sort = "id"
		q.Desc = true
	}
	return q
}

// List returns one page of records matching q.
func (s *Store) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	q = q.Normalize()

	filtered := func() *gorm.DB {
		tx := s.db.WithContext(ctx).Model(&Record{})
		if q.Status != "" {
			tx = tx.Where("status = ?", q.Status)
		}
		if q.Q != "" {
			like := "%" + q.Q + "%"
			if id, err := strconv.ParseUint(q.Q, 10, 64); err == nil {
				tx = tx.Where("(id = ? OR object_key LIKE ? OR original_url LIKE ? OR message LIKE ?)", id, like, like, like)
			} else {
				tx = tx.Where("(object_key LIKE ? OR original_url LIKE ? OR message LIKE ?)", like, like, like)
			}
		}
		return tx
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, errors.Wrap(err, "count uploads")
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := q.Sort + " " + dir
	if q.Sort != "id" {
		order += ", id " + dir
	}

	var recs []Record
	err := filtered().Order(order).
		Limit(q.Limit).
		Offset((q.Page - 1) * q.Limit).
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list uploads")
	}

	lastPage := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	if lastPage < 1 {
		lastPage = 1
	}

	return &ListResult{
		Data:     recs,
		Total:    total,
		Page:     q.Page,
		Limit:    q.Limit,
		LastPage: lastPage,
	}, nil
}
