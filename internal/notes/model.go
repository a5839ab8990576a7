package notes

import (
	"errors"
	"fmt"
	"strings"
)

// NoteStatus enumerates where a note lives from the client's point of view.
type NoteStatus string

const (
	// StatusWorkspace marks a note open in the workspace.
	StatusWorkspace NoteStatus = "WORKSPACE"
	// StatusBacklog marks a note closed and saved in the backlog.
	StatusBacklog NoteStatus = "BACKLOG"
)

// EncryptionMethod enumerates how note content is encrypted client side.
type EncryptionMethod string

const (
	// EncryptionNone marks plain content.
	EncryptionNone EncryptionMethod = "NONE"
	// EncryptionPassword marks content encrypted with a password-derived key.
	EncryptionPassword EncryptionMethod = "PASSWORD"
	// EncryptionCertificate marks content encrypted with a certificate key.
	EncryptionCertificate EncryptionMethod = "CERTIFICATE"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidStatus indicates an unknown note status value.
	ErrInvalidStatus = errors.New("notes: invalid note status")
	// ErrInvalidEncryption indicates an unknown encryption method value.
	ErrInvalidEncryption = errors.New("notes: invalid encryption method")
	// ErrNoteNotFound indicates the note does not exist for the user.
	ErrNoteNotFound = errors.New("notes: note not found")
)

// ParseStatus validates raw input and returns a NoteStatus.
func ParseStatus(rawInput string) (NoteStatus, error) {
	switch NoteStatus(strings.ToUpper(strings.TrimSpace(rawInput))) {
	case StatusWorkspace:
		return StatusWorkspace, nil
	case StatusBacklog:
		return StatusBacklog, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// ParseEncryption validates raw input and returns an EncryptionMethod.
func ParseEncryption(rawInput string) (EncryptionMethod, error) {
	switch EncryptionMethod(strings.ToUpper(strings.TrimSpace(rawInput))) {
	case EncryptionNone:
		return EncryptionNone, nil
	case EncryptionPassword:
		return EncryptionPassword, nil
	case EncryptionCertificate:
		return EncryptionCertificate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEncryption, rawInput)
	}
}

func validateIdentifier(rawInput string, invalid error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", invalid)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", invalid, maxIdentifierLength)
	}
	return trimmed, nil
}

// Note models the persisted note payload.
type Note struct {
	NoteID      string           `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID      string           `gorm:"column:user_id;size:190;not null;index:idx_notes_user_status,priority:1"`
	Name        string           `gorm:"column:name;size:320"`
	ContentText string           `gorm:"column:content_text;type:text;not null"`
	ContentHTML string           `gorm:"column:content_html;type:text;not null"`
	Status      NoteStatus       `gorm:"column:status;size:16;not null;index:idx_notes_user_status,priority:2"`
	Encryption  EncryptionMethod `gorm:"column:encryption;size:16;not null;default:'NONE'"`
	CreatedAtMS int64            `gorm:"column:created_at_ms;not null"`
	UpdatedAtMS int64            `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}
