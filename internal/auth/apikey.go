/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/carbonwise/internal/models"
)

// API key constants
const (
	APIKeyPrefix      = "cw_"
	APIKeyRandomBytes = 24 // 192 bits
)

// ErrAPIKeyNotFound is returned when an API key doesn't exist.
var ErrAPIKeyNotFound = errors.New("api key not found")

// ErrAPIKeyExpired is returned when an API key has expired.
var ErrAPIKeyExpired = errors.New("api key expired")

// ErrAPIKeyRevoked is returned when an API key has been revoked.
var ErrAPIKeyRevoked = errors.New("api key revoked")

func hashKey(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}

// GenerateAPIKey creates a new API key for an owner.
// Returns the plaintext key (to show once) and the model to store.
func GenerateAPIKey(owner, name string, roles []string, expiresIn time.Duration) (string, *models.APIKey, error) {
	randomBytes := make([]byte, APIKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, err
	}
	plaintextKey := APIKeyPrefix + hex.EncodeToString(randomBytes)

	if len(roles) == 0 {
		roles = []string{RoleSubmitter}
	}

	apiKey := &models.APIKey{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      name,
		Roles:     strings.Join(roles, ","),
		KeyHash:   hashKey(plaintextKey),
		KeyPrefix: plaintextKey[:11],
		ExpiresAt: time.Now().Add(expiresIn),
	}

	return plaintextKey, apiKey, nil
}

// CreateAPIKey generates and persists a key.
func CreateAPIKey(db *gorm.DB, owner, name string, roles []string, expiresIn time.Duration) (string, *models.APIKey, error) {
	plaintext, key, err := GenerateAPIKey(owner, name, roles, expiresIn)
	if err != nil {
		return "", nil, err
	}
	if err := db.Create(key).Error; err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// ValidateAPIKey validates an API key and returns claims if valid.
func ValidateAPIKey(db *gorm.DB, plaintextKey string) (*Claims, error) {
	if db == nil || !strings.HasPrefix(plaintextKey, APIKeyPrefix) {
		return nil, ErrAPIKeyNotFound
	}

	var apiKey models.APIKey
	result := db.Where("key_hash = ?", hashKey(plaintextKey)).First(&apiKey)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	if apiKey.IsRevoked() {
		return nil, ErrAPIKeyRevoked
	}
	if apiKey.IsExpired() {
		return nil, ErrAPIKeyExpired
	}

	now := time.Now()
	db.Model(&apiKey).Update("last_used_at", now)

	return &Claims{
		UserID: apiKey.Owner,
		Roles:  apiKey.RoleList(),
	}, nil
}

// RevokeAPIKey revokes an API key by id.
func RevokeAPIKey(db *gorm.DB, keyID string) error {
	now := time.Now()
	result := db.Model(&models.APIKey{}).
		Where("id = ? AND revoked_at IS NULL", keyID).
		Update("revoked_at", now)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns the keys of an owner, or every key when owner is empty.
func ListAPIKeys(db *gorm.DB, owner string) ([]models.APIKey, error) {
	var keys []models.APIKey
	q := db.Order("created_at DESC")
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	err := q.Find(&keys).Error
	return keys, err
}
