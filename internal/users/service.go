package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const providerGitHub = "github"

// ErrInvalidIdentity indicates the provider identity did not contain a usable subject.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveCanonicalUserID returns the canonical Quill user id for a verified
// GitHub identity, minting a fresh id the first time the subject is seen and
// refreshing profile fields on subsequent logins.
func (s *Service) ResolveCanonicalUserID(identity auth.GitHubIdentity) (string, error) {
	subject := normalize(identity.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := providerGitHub + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			s.refreshProfile(subject, identity)
			return canonicalIdentifier, nil
		}
	}

	var stored Identity
	err := s.db.
		Where("provider = ? AND subject = ?", providerGitHub, subject).
		First(&stored).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		canonicalID, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		stored = Identity{
			Provider:    providerGitHub,
			Subject:     subject,
			UserID:      canonicalID.String(),
			Email:       normalize(identity.Email),
			DisplayName: normalize(identity.DisplayName),
			AvatarURL:   normalize(identity.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&stored).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		s.refreshProfile(subject, identity)
	}

	s.cache.Store(cacheKey, stored.UserID)
	return stored.UserID, nil
}

// refreshProfile folds the latest provider profile into the stored identity.
// Login must not fail because a profile update did; errors are swallowed.
func (s *Service) refreshProfile(subject string, identity auth.GitHubIdentity) {
	updates := map[string]interface{}{
		"last_seen_at": s.now(),
	}
	if email := normalize(identity.Email); email != "" {
		updates["user_email"] = email
	}
	if display := normalize(identity.DisplayName); display != "" {
		updates["user_display_name"] = display
	}
	if avatar := normalize(identity.AvatarURL); avatar != "" {
		updates["user_avatar_url"] = avatar
	}
	_ = s.db.Model(&Identity{}).
		Where("provider = ? AND subject = ?", providerGitHub, subject).
		Updates(updates).
		Error
}
