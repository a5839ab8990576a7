package users

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openIdentityDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestServiceRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestResolveCanonicalUserIDMintsOnFirstLogin(t *testing.T) {
	db := openIdentityDatabase(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	userID, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{
		Subject:     "12345",
		Email:       "octocat@example.com",
		DisplayName: "Octo Cat",
	})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if userID == "" {
		t.Fatal("expected a canonical user id")
	}

	var stored Identity
	if err := db.Where("provider = ? AND subject = ?", "github", "12345").First(&stored).Error; err != nil {
		t.Fatalf("expected identity persisted: %v", err)
	}
	if stored.UserID != userID {
		t.Fatalf("expected stored canonical id %s, got %s", userID, stored.UserID)
	}
	if stored.Email != "octocat@example.com" {
		t.Fatalf("expected email persisted, got %s", stored.Email)
	}
}

func TestResolveCanonicalUserIDIsStableAcrossLogins(t *testing.T) {
	db := openIdentityDatabase(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	first, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "12345"})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	second, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "12345"})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable canonical id, got %s then %s", first, second)
	}
}

func TestResolveCanonicalUserIDSurvivesCacheLoss(t *testing.T) {
	db := openIdentityDatabase(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	first, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "12345"})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}

	// A fresh service over the same database simulates a restart.
	restarted, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to rebuild service: %v", err)
	}
	second, err := restarted.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "12345"})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if first != second {
		t.Fatalf("expected canonical id to survive restart, got %s then %s", first, second)
	}
}

func TestResolveCanonicalUserIDRefreshesProfile(t *testing.T) {
	db := openIdentityDatabase(t)
	loginAt := time.Unix(1700000000, 0)
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return loginAt },
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	if _, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "12345", DisplayName: "Old Name"}); err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if _, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "12345", DisplayName: "New Name", Email: "new@example.com"}); err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}

	var stored Identity
	if err := db.Where("provider = ? AND subject = ?", "github", "12345").First(&stored).Error; err != nil {
		t.Fatalf("expected identity persisted: %v", err)
	}
	if stored.DisplayName != "New Name" {
		t.Fatalf("expected refreshed display name, got %s", stored.DisplayName)
	}
	if stored.Email != "new@example.com" {
		t.Fatalf("expected refreshed email, got %s", stored.Email)
	}
}

func TestResolveCanonicalUserIDRejectsEmptySubject(t *testing.T) {
	db := openIdentityDatabase(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	if _, err := service.ResolveCanonicalUserID(auth.GitHubIdentity{Subject: "  "}); err == nil {
		t.Fatal("expected error for blank subject")
	}
}
