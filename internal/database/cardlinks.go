package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateCardLink issues a new card-link for the user. When a template is
// supplied, the template's name is denormalized into AppName so the link
// keeps a readable app label even if the template is deleted later.
func (db *DB) CreateCardLink(username, appName, phone string, templateID *uint, expiryDays *int, tags []string) (*CardLink, error) {
	username = strings.ToLower(username)

	if templateID != nil {
		tmpl, err := db.GetTemplateByID(*templateID)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, fmt.Errorf("template %d not found", *templateID)
		}
		appName = tmpl.Name
	}
	if expiryDays != nil && *expiryDays <= 0 {
		return nil, fmt.Errorf("expiry days must be positive")
	}

	link := &CardLink{
		CardKey:    uuid.NewString(),
		Username:   username,
		AppName:    appName,
		Phone:      phone,
		Tags:       tags,
		TemplateID: templateID,
		ExpiryDays: expiryDays,
	}

	if err := db.Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to create card-link: %w", err)
	}
	return link, nil
}

// GetCardLinkByKey retrieves a card-link by its public key, the sole lookup
// identity. Returns (nil, nil) when the key is unknown.
func (db *DB) GetCardLinkByKey(cardKey string) (*CardLink, error) {
	var link CardLink
	err := db.Where("card_key = ?", cardKey).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card-link: %w", err)
	}
	return &link, nil
}

// ListCardLinks returns all card-links owned by username, newest first
func (db *DB) ListCardLinks(username string) ([]CardLink, error) {
	var links []CardLink
	err := db.Where("username = ?", strings.ToLower(username)).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list card-links: %w", err)
	}
	return links, nil
}

// MarkCardLinkFirstUsed records the activation timestamp, but only if the
// link has never been activated. The conditional UPDATE is the serialization
// point: of two concurrent callers exactly one sees RowsAffected == 1.
func (db *DB) MarkCardLinkFirstUsed(cardKey string, ts time.Time) (bool, error) {
	result := db.Model(&CardLink{}).
		Where("card_key = ? AND first_used_at IS NULL", cardKey).
		Update("first_used_at", ts)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark card-link first used: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// BindCardLinkMessage associates the card-link with its resolved message,
// but only if no message has been bound yet. Once set, MessageID is never
// overwritten; a lost race is reported as won == false, not an error.
func (db *DB) BindCardLinkMessage(cardKey string, messageID uint) (bool, error) {
	result := db.Model(&CardLink{}).
		Where("card_key = ? AND message_id IS NULL", cardKey).
		Update("message_id", messageID)
	if result.Error != nil {
		return false, fmt.Errorf("failed to bind card-link message: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// DeleteCardLink removes a card-link. Used links (FirstUsedAt set) are kept
// as an audit trail and may only be deleted by admins; non-admin callers must
// own the link.
func (db *DB) DeleteCardLink(cardKey, username string, isAdmin bool) error {
	link, err := db.GetCardLinkByKey(cardKey)
	if err != nil {
		return err
	}
	if link == nil {
		return fmt.Errorf("no card-link found: %s", cardKey)
	}
	if !isAdmin {
		if link.Username != strings.ToLower(username) {
			return ErrNotOwner
		}
		if link.FirstUsedAt != nil {
			return ErrCardLinkInUse
		}
	}

	if err := db.Delete(link).Error; err != nil {
		return fmt.Errorf("failed to delete card-link: %w", err)
	}
	return nil
}
