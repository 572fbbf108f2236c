// Package catalog stores the feed and the media locations the playback pool
// resolves item ids against.
package catalog

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a wrapper around ulid.ULID for database storage as primary key.
type ULID ulid.ULID

// NewULID generates a new ULID.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero returns true if the ULID is zero/empty.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer for database storage.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// GormDataType returns the GORM data type for ULID.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// Thread is one horizontally navigable column of the feed.
type Thread struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	Slug      string    `gorm:"size:128;uniqueIndex;not null" json:"slug"`
	Title     string    `gorm:"size:255" json:"title,omitempty"`
	Position  int       `gorm:"index;not null;default:0" json:"position"`
	Items     []Item    `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a ULID if not already set.
func (t *Thread) BeforeCreate(_ *gorm.DB) error {
	if t.ID.IsZero() {
		t.ID = NewULID()
	}
	return nil
}

// Item is one playable entry of a thread. ID is the stable media identity
// the pool keys handles by.
type Item struct {
	ID       string `gorm:"primarykey;size:128" json:"id"`
	ThreadID ULID   `gorm:"type:varchar(26);index:idx_items_thread_position,priority:1;not null" json:"thread_id"`
	Position int    `gorm:"index:idx_items_thread_position,priority:2;not null;default:0" json:"position"`
	// Location is the remote or local media location.
	Location string `gorm:"size:2048;not null" json:"location"`
	// CachedPath is a local copy preferred over Location when present on disk.
	CachedPath string    `gorm:"size:1024" json:"cached_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
