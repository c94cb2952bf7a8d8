package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// CreatePushEndpoint registers a callback URL for a user
func (db *DB) CreatePushEndpoint(username, url, description string, headers map[string]string) (*PushEndpoint, error) {
	if url == "" {
		return nil, fmt.Errorf("endpoint URL is required")
	}

	endpoint := &PushEndpoint{
		Username:    strings.ToLower(username),
		URL:         url,
		Description: description,
		Headers:     headers,
		IsActive:    true,
	}
	if err := db.Create(endpoint).Error; err != nil {
		return nil, fmt.Errorf("failed to create push endpoint: %w", err)
	}
	return endpoint, nil
}

// ListPushEndpoints returns the active callback endpoints for a user
func (db *DB) ListPushEndpoints(username string) ([]PushEndpoint, error) {
	var endpoints []PushEndpoint
	err := db.Where("username = ? AND is_active = ?", strings.ToLower(username), true).
		Find(&endpoints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list push endpoints: %w", err)
	}
	return endpoints, nil
}

// TogglePushEndpoint flips the active flag and returns the new state
func (db *DB) TogglePushEndpoint(id uint, username string) (bool, error) {
	var endpoint PushEndpoint
	err := db.Where("id = ? AND username = ?", id, strings.ToLower(username)).First(&endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("no push endpoint found: %d", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to get push endpoint: %w", err)
	}

	endpoint.IsActive = !endpoint.IsActive
	if err := db.Save(&endpoint).Error; err != nil {
		return false, fmt.Errorf("failed to toggle push endpoint: %w", err)
	}
	return endpoint.IsActive, nil
}

// DeletePushEndpoint removes an endpoint together with its delivery logs
func (db *DB) DeletePushEndpoint(id uint, username string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint_id = ?", id).Delete(&DeliveryLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete delivery logs: %w", err)
		}
		result := tx.Where("id = ? AND username = ?", id, strings.ToLower(username)).Delete(&PushEndpoint{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete push endpoint: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("no push endpoint found: %d", id)
		}
		return nil
	})
}

// LogDelivery records the outcome of one forwarding attempt
func (db *DB) LogDelivery(endpointID uint, username string, messageID uint, status, errorMsg string) error {
	entry := &DeliveryLog{
		EndpointID:   endpointID,
		Username:     strings.ToLower(username),
		MessageID:    messageID,
		Status:       status,
		ErrorMessage: errorMsg,
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs returns recent delivery attempts for a user, newest first
func (db *DB) ListDeliveryLogs(username string, limit int) ([]DeliveryLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []DeliveryLog
	err := db.Where("username = ?", strings.ToLower(username)).
		Order("attempted_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return logs, nil
}
