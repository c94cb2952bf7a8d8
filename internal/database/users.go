package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CreateUser creates a new user with a bcrypt-hashed password and a fresh
// webhook key. Usernames are case-insensitive.
func (db *DB) CreateUser(username, password string, isAdmin bool) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	var existing User
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("user %s already exists", username)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: string(hash),
		WebhookKey:   uuid.NewString(),
		IsAdmin:      isAdmin,
		ShowFooter:   true,
		ShowAds:      true,
	}

	if err := db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil) when no
// such user exists.
func (db *DB) GetUserByUsername(username string) (*User, error) {
	var user User
	err := db.Preload("Emails").Where("username = ?", strings.ToLower(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByWebhookKey retrieves the user owning the given ingestion key.
// Returns (nil, nil) when the key is unknown.
func (db *DB) GetUserByWebhookKey(key string) (*User, error) {
	var user User
	err := db.Where("webhook_key = ?", key).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by webhook key: %w", err)
	}
	return &user, nil
}

// GetUserByBoundEmail retrieves the user owning the given inbound address.
// Returns (nil, nil) when the address is not bound to anyone.
func (db *DB) GetUserByBoundEmail(email string) (*User, error) {
	var bound BoundEmail
	err := db.Where("email = ?", strings.ToLower(email)).First(&bound).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up bound email: %w", err)
	}
	return db.GetUserByUsername(bound.Username)
}

// Authenticate verifies a username/password pair against the stored hash.
// Returns the user on success and (nil, nil) on bad credentials.
func (db *DB) Authenticate(username, password string) (*User, error) {
	user, err := db.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return user, nil
}

// ListUsers retrieves all users, newest first
func (db *DB) ListUsers() ([]User, error) {
	var users []User
	if err := db.Preload("Emails").Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// UpdateUserFlags updates the feature flags on a user
func (db *DB) UpdateUserFlags(username string, isAdmin, canManageTemplates, showFooter, showAds bool) error {
	result := db.Model(&User{}).Where("username = ?", strings.ToLower(username)).Updates(map[string]interface{}{
		"is_admin":             isAdmin,
		"can_manage_templates": canManageTemplates,
		"show_footer":          showFooter,
		"show_ads":             showAds,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update user flags: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no user found: %s", username)
	}
	return nil
}

// RotateWebhookKey issues a new ingestion key for the user and returns it
func (db *DB) RotateWebhookKey(username string) (string, error) {
	key := uuid.NewString()
	result := db.Model(&User{}).Where("username = ?", strings.ToLower(username)).Update("webhook_key", key)
	if result.Error != nil {
		return "", fmt.Errorf("failed to rotate webhook key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", fmt.Errorf("no user found: %s", username)
	}
	return key, nil
}

// UpdateCardLinkTags replaces the user's card-link tag vocabulary
func (db *DB) UpdateCardLinkTags(username string, tags []string) error {
	result := db.Model(&User{}).Where("username = ?", strings.ToLower(username)).
		Update("card_link_tags", tags)
	if result.Error != nil {
		return fmt.Errorf("failed to update card-link tags: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no user found: %s", username)
	}
	return nil
}

// BindEmail attaches an inbound address to a user
func (db *DB) BindEmail(username, email string) error {
	bound := &BoundEmail{
		Username: strings.ToLower(username),
		Email:    strings.ToLower(email),
	}
	if err := db.Create(bound).Error; err != nil {
		return fmt.Errorf("failed to bind email: %w", err)
	}
	return nil
}

// DeleteUser removes a user together with their messages, card-links, bound
// emails and push endpoints. Dependent rows are removed explicitly, in one
// transaction.
func (db *DB) DeleteUser(username string) error {
	username = strings.ToLower(username)
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", username).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("username = ?", username).Delete(&CardLink{}).Error; err != nil {
			return fmt.Errorf("failed to delete card-links: %w", err)
		}
		if err := tx.Where("username = ?", username).Delete(&BoundEmail{}).Error; err != nil {
			return fmt.Errorf("failed to delete bound emails: %w", err)
		}
		if err := tx.Where("username = ?", username).Delete(&PushEndpoint{}).Error; err != nil {
			return fmt.Errorf("failed to delete push endpoints: %w", err)
		}
		result := tx.Where("username = ?", username).Delete(&User{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("no user found: %s", username)
		}
		return nil
	})
}
