package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/channel"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation/reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "notes.service.new"
	opCreateNote    = "notes.create_note"
	opGetNote       = "notes.get_note"
	opListNotes     = "notes.list_notes"
	opSetStatus     = "notes.set_status"
	opSetName       = "notes.set_name"
	opSetContent    = "notes.set_content"
	opSetEncryption = "notes.set_encryption"
	opDeleteNote    = "notes.delete_note"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ContentOverlay exposes not-yet-durable note content recorded by the write
// coalescer. Read paths consult it so a reader never sees content older than
// what a connected editor already acknowledged.
type ContentOverlay interface {
	Peek(noteID string) (channel.Content, bool)
}

// ServiceConfig bundles the dependencies of the note service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Overlay    ContentOverlay
	Logger     *zap.Logger
}

// IDProvider issues identifiers for newly created notes.
type IDProvider interface {
	NewID() (string, error)
}

// Service owns the durable note surface consumed by the REST layer.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	overlay    ContentOverlay
	logger     *zap.Logger
}

// NewService validates configuration and constructs the note service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		overlay:    cfg.Overlay,
		logger:     logger,
	}, nil
}

// CreateNote inserts an empty workspace note and returns its id.
func (s *Service) CreateNote(ctx context.Context, userID, name string) (string, error) {
	owner, err := validateIdentifier(userID, ErrInvalidUserID)
	if err != nil {
		return "", newServiceError(opCreateNote, "invalid_user_id", err)
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err, zap.String("user_id", owner))
		return "", newServiceError(opCreateNote, "id_generation_failed", err)
	}

	now := s.nowMS()
	note := Note{
		NoteID:      noteID,
		UserID:      owner,
		Name:        name,
		Status:      StatusWorkspace,
		Encryption:  EncryptionNone,
		CreatedAtMS: now,
		UpdatedAtMS: now,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.String("user_id", owner))
		return "", newServiceError(opCreateNote, "insert_failed", err)
	}
	return noteID, nil
}

// GetNote fetches one note, overlaying any content still awaiting its flush.
func (s *Service) GetNote(ctx context.Context, noteID, userID string) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).
		Where("note_id = ? AND user_id = ?", noteID, userID).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, newServiceError(opGetNote, "not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err,
			zap.String("user_id", userID),
			zap.String("note_id", noteID))
		return Note{}, newServiceError(opGetNote, "query_failed", err)
	}
	s.applyOverlay(&note)
	return note, nil
}

// ListWorkspaceNotes returns the user's open notes with pending edits overlaid.
func (s *Service) ListWorkspaceNotes(ctx context.Context, userID string) ([]Note, error) {
	return s.listByStatus(ctx, userID, StatusWorkspace)
}

// ListBacklogNotes returns the user's archived notes with pending edits overlaid.
func (s *Service) ListBacklogNotes(ctx context.Context, userID string) ([]Note, error) {
	return s.listByStatus(ctx, userID, StatusBacklog)
}

func (s *Service) listByStatus(ctx context.Context, userID string, status NoteStatus) ([]Note, error) {
	owner, err := validateIdentifier(userID, ErrInvalidUserID)
	if err != nil {
		return nil, newServiceError(opListNotes, "invalid_user_id", err)
	}

	var collection []Note
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", owner, status).
		Order("updated_at_ms DESC").
		Find(&collection).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("user_id", owner))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}

	for index := range collection {
		s.applyOverlay(&collection[index])
	}
	return collection, nil
}

// SetNoteStatus moves the note between workspace and backlog.
func (s *Service) SetNoteStatus(ctx context.Context, noteID, userID string, status NoteStatus) error {
	return s.updateNote(ctx, opSetStatus, noteID, userID, map[string]interface{}{
		"status": status,
	})
}

// SetNoteName renames the note.
func (s *Service) SetNoteName(ctx context.Context, noteID, userID, name string) error {
	return s.updateNote(ctx, opSetName, noteID, userID, map[string]interface{}{
		"name": name,
	})
}

// SetNoteContent durably replaces the note content, bypassing the coalescer.
func (s *Service) SetNoteContent(ctx context.Context, noteID, userID, contentText, contentHTML string) error {
	return s.updateNote(ctx, opSetContent, noteID, userID, map[string]interface{}{
		"content_text":  contentText,
		"content_html":  contentHTML,
		"updated_at_ms": s.nowMS(),
	})
}

// SetNoteEncryption switches the encryption method together with the
// re-encrypted content so the note is never half converted.
func (s *Service) SetNoteEncryption(ctx context.Context, noteID, userID, contentText, contentHTML string, encryption EncryptionMethod) error {
	return s.updateNote(ctx, opSetEncryption, noteID, userID, map[string]interface{}{
		"encryption":    encryption,
		"content_text":  contentText,
		"content_html":  contentHTML,
		"updated_at_ms": s.nowMS(),
	})
}

// DeleteNote permanently removes the note.
func (s *Service) DeleteNote(ctx context.Context, noteID, userID string) error {
	result := s.db.WithContext(ctx).
		Where("note_id = ? AND user_id = ?", noteID, userID).
		Delete(&Note{})
	if result.Error != nil {
		s.logError(opDeleteNote, "delete_failed", result.Error,
			zap.String("user_id", userID),
			zap.String("note_id", noteID))
		return newServiceError(opDeleteNote, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteNote, "not_found", ErrNoteNotFound)
	}
	return nil
}

func (s *Service) updateNote(ctx context.Context, operation, noteID, userID string, updates map[string]interface{}) error {
	id, err := validateIdentifier(noteID, ErrInvalidNoteID)
	if err != nil {
		return newServiceError(operation, "invalid_note_id", err)
	}
	owner, err := validateIdentifier(userID, ErrInvalidUserID)
	if err != nil {
		return newServiceError(operation, "invalid_user_id", err)
	}

	result := s.db.WithContext(ctx).
		Model(&Note{}).
		Where("note_id = ? AND user_id = ?", id, owner).
		Updates(updates)
	if result.Error != nil {
		s.logError(operation, "update_failed", result.Error,
			zap.String("user_id", owner),
			zap.String("note_id", id))
		return newServiceError(operation, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(operation, "not_found", ErrNoteNotFound)
	}
	return nil
}

func (s *Service) applyOverlay(note *Note) {
	if s.overlay == nil {
		return
	}
	if pending, ok := s.overlay.Peek(note.NoteID); ok {
		note.ContentText = pending.ContentText
		note.ContentHTML = pending.ContentHTML
	}
}

func (s *Service) nowMS() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}
