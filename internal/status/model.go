package status

import "time"

// State is the lifecycle state of a transfer.
type State string

const (
	Pending   State = "pending"
	Completed State = "completed"
	Failed    State = "failed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case Pending, Completed, Failed:
		return true
	}
	return false
}

// MessageLimit is the width of the message column.
const MessageLimit = 500

// Record is one row of the uploads table, keyed by object key.
type Record struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ObjectKey       string    `gorm:"type:varchar(500);uniqueIndex:uk_object_key;not null" json:"object_key"`
	Status          State     `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	FileURL         *string   `gorm:"type:varchar(1000)" json:"file_url"`
	Message         *string   `gorm:"type:varchar(500)" json:"message"`
	Retries         uint      `gorm:"not null;default:0" json:"retries"`
	SizeBytes       uint64    `gorm:"not null;default:0" json:"size_bytes"`
	OriginalURL     *string   `gorm:"type:varchar(2000)" json:"original_url"`
	DownloadTimeSec uint      `gorm:"not null;default:0" json:"download_time_sec"`
	UploadTimeSec   uint      `gorm:"not null;default:0" json:"upload_time_sec"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName keeps the table name used by existing deployments.
func (Record) TableName() string {
	return "uploads"
}

// Update is one status write. Empty FileURL and Message are stored as NULL;
// an empty OriginalURL keeps the stored value; a nil Retries leaves the
// counter untouched.
type Update struct {
	ObjectKey       string
	Status          State
	FileURL         string
	Message         string
	Retries         *uint
	SizeBytes       uint64
	OriginalURL     string
	DownloadTimeSec uint
	UploadTimeSec   uint
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// arg turns a nullable column value into a query argument.
func arg(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Seconds rounds d to whole seconds for storage.
func Seconds(d time.Duration) uint {
	if d <= 0 {
		return 0
	}
	return uint(d.Round(time.Second) / time.Second)
}
