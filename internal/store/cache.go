package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// roomHistory is one cached merged view, keyed by room.
type roomHistory struct {
	RoomID    string `gorm:"primaryKey;column:room_id"`
	Payload   []byte `gorm:"column:payload"`
	UpdatedAt time.Time
}

func (roomHistory) TableName() string { return "room_history" }

// Cache is the durable per-room mirror of merged message views. It exists
// for warm starts: a room opened before any network data arrives renders
// from its last persisted merge.
type Cache struct {
	db *gorm.DB
}

// OpenCache opens (and migrates) the sqlite-backed cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.AutoMigrate(&roomHistory{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Save upserts the room's merged view.
func (c *Cache) Save(roomID string, msgs []Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode cached history: %w", err)
	}
	row := roomHistory{RoomID: roomID, Payload: payload, UpdatedAt: time.Now()}
	err = c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save cached history: %w", err)
	}
	return nil
}

// Load returns the room's cached view, or nil when none was persisted yet.
func (c *Cache) Load(roomID string) ([]Message, error) {
	var row roomHistory
	if err := c.db.First(&row, "room_id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached history: %w", err)
	}
	var msgs []Message
	if err := json.Unmarshal(row.Payload, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode cached history: %w", err)
	}
	return msgs, nil
}
