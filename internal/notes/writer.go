package notes

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ContentWriter is the durable flush target of the write coalescer. It only
// touches notes that are still open in the workspace: a note deleted or
// archived while an edit was pending simply matches zero rows, so a late
// flush never resurrects it.
type ContentWriter struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewContentWriter constructs the flush target over the shared database handle.
func NewContentWriter(db *gorm.DB, clock func() time.Time, logger *zap.Logger) (*ContentWriter, error) {
	if db == nil {
		return nil, errors.New("notes: content writer requires a database handle")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &ContentWriter{db: db, clock: clock, logger: logger}, nil
}

// WriteNoteContent persists coalesced content for a workspace note.
func (w *ContentWriter) WriteNoteContent(ctx context.Context, noteID, userID, contentText, contentHTML string) error {
	result := w.db.WithContext(ctx).
		Model(&Note{}).
		Where("note_id = ? AND user_id = ? AND status = ?", noteID, userID, StatusWorkspace).
		Updates(map[string]interface{}{
			"content_text":  contentText,
			"content_html":  contentHTML,
			"updated_at_ms": w.clock().UTC().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		w.logger.Debug("coalesced write matched no workspace note",
			zap.String("note_id", noteID),
			zap.String("user_id", userID))
	}
	return nil
}
