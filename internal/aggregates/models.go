package aggregates

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CountMap is a jsonb string-keyed frequency map.
type CountMap map[string]int64

// Value implements driver.Valuer.
func (m CountMap) Value() (driver.Value, error) {
	if m == nil {
		m = CountMap{}
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *CountMap) Scan(value any) error {
	if value == nil {
		*m = CountMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into CountMap", value)
	}
}

// GormDataType tells gorm to back CountMap columns with jsonb.
func (CountMap) GormDataType() string {
	return "jsonb"
}

// Sum returns the total of all counts in the map.
func (m CountMap) Sum() int64 {
	var total int64
	for _, c := range m {
		total += c
	}
	return total
}

// HourlyStat is the aggregate row for one (website, hour) bucket. At most one
// row per pair ever exists, enforced by the unique index; counters only grow.
type HourlyStat struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	WebsiteID    string    `gorm:"uniqueIndex:idx_hourly_stats_website_hour;size:64;not null"`
	Hour         time.Time `gorm:"uniqueIndex:idx_hourly_stats_website_hour;not null"`
	Views        int64     `gorm:"not null;default:0"`
	UniqueViews  int64     `gorm:"not null;default:0"`
	Referers     CountMap  `gorm:"type:jsonb;not null;default:'{}'"`
	Pages        CountMap  `gorm:"type:jsonb;not null;default:'{}'"`
	CountryCodes CountMap  `gorm:"type:jsonb;not null;default:'{}'"`
	Browsers     CountMap  `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VisitorLog records the first sighting of a visitor signature per website.
type VisitorLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	WebsiteID string `gorm:"uniqueIndex:idx_visitor_logs_website_hash;size:64;not null"`
	UserHash  string `gorm:"uniqueIndex:idx_visitor_logs_website_hash;size:128;not null"`
	CreatedAt time.Time
}

// Increment is one event's contribution to a bucket.
type Increment struct {
	Referer     string
	Page        string
	CountryCode string
	Browser     string
	Unique      bool
}
