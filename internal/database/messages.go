package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AppendMessage stores an ingested message. SystemReceivedAt is always
// stamped server-side; a zero value is replaced with the current time.
// Messages are never updated after this point.
func (db *DB) AppendMessage(msg *Message) error {
	if msg.Username == "" {
		return fmt.Errorf("message username is required")
	}
	if msg.SystemReceivedAt.IsZero() {
		msg.SystemReceivedAt = time.Now().UTC()
	}
	if msg.SourceType == "" {
		msg.SourceType = SourceSMS
	}
	if err := db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetMessageByID retrieves a single message. Returns (nil, nil) when absent.
func (db *DB) GetMessageByID(id uint) (*Message, error) {
	var msg Message
	err := db.First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// EarliestMessageAfter returns the first message for username whose trusted
// SystemReceivedAt is strictly after since, in ascending ingestion order.
// The earliest qualifying message wins, not the most recent one, so
// verification codes arriving after a card-link's activation are matched in
// delivery order. phone, when non-empty, is a substring filter on the sender.
// Returns (nil, nil) when nothing qualifies.
func (db *DB) EarliestMessageAfter(username string, since time.Time, phone string) (*Message, error) {
	query := db.Where("username = ? AND system_received_at > ?", username, since)
	if phone != "" {
		query = query.Where("sender LIKE ?", "%"+phone+"%")
	}

	var msg Message
	err := query.Order("system_received_at ASC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return &msg, nil
}

// ListMessages returns the user's inbox, newest first, capped at limit
func (db *DB) ListMessages(username string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var messages []Message
	err := db.Where("username = ?", username).
		Order("system_received_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// PruneMessages enforces the per-user retention cap by deleting the oldest
// messages beyond keep. Returns the number of pruned rows.
func (db *DB) PruneMessages(username string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	keepers := db.Model(&Message{}).
		Select("id").
		Where("username = ?", username).
		Order("system_received_at DESC, id DESC").
		Limit(keep)

	result := db.Where("username = ? AND id NOT IN (?)", username, keepers).Delete(&Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}
