package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/channel"
	"github.com/MarcoPoloResearchLab/quill/internal/notes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "quill_user_id"
	// originChannelHeader names the caller's own channel so the mutation it
	// just performed is not echoed back to it.
	originChannelHeader = "channelSid"
)

var (
	errMissingExchanger      = errors.New("github exchanger dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUserResolver   = errors.New("user resolver dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingChannelHandler = errors.New("channel handler dependency required")
	errMissingKeyIssuer      = errors.New("channel key issuer dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// GitHubExchanger resolves an OAuth code to a verified provider identity.
type GitHubExchanger interface {
	Exchange(ctx context.Context, code string) (auth.GitHubIdentity, error)
}

// BackendTokenManager issues and validates backend bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// UserResolver maps provider identities to canonical user ids.
type UserResolver interface {
	ResolveCanonicalUserID(identity auth.GitHubIdentity) (string, error)
}

// ChannelKeyIssuer hands out one-time websocket session keys.
type ChannelKeyIssuer interface {
	Issue(userID string) (string, error)
}

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	Exchanger      GitHubExchanger
	TokenManager   BackendTokenManager
	Users          UserResolver
	NotesService   *notes.Service
	ChannelHandler *channel.Handler
	KeyIssuer      ChannelKeyIssuer
	Logger         *zap.Logger
}

// NewHTTPHandler validates dependencies and assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Exchanger == nil {
		return nil, errMissingExchanger
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.ChannelHandler == nil {
		return nil, errMissingChannelHandler
	}
	if deps.KeyIssuer == nil {
		return nil, errMissingKeyIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", originChannelHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		exchanger:    deps.Exchanger,
		tokens:       deps.TokenManager,
		users:        deps.Users,
		notesService: deps.NotesService,
		channels:     deps.ChannelHandler,
		keys:         deps.KeyIssuer,
		logger:       logger,
	}

	router.POST("/auth/github", handler.handleGitHubAuth)

	// The websocket endpoint authenticates with a one-time channel key
	// instead of the bearer token, so it sits outside the protected group.
	router.GET("/channel", func(c *gin.Context) {
		deps.ChannelHandler.HandleConnection(c.Writer, c.Request)
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes/channel-key", handler.handleChannelKey)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes/workspace", handler.handleWorkspaceNotes)
	protected.GET("/notes/backlog", handler.handleBacklogNotes)
	protected.GET("/notes/:noteId", handler.handleGetNote)
	protected.PUT("/notes/status/:noteId", handler.handleSetStatus)
	protected.PUT("/notes/content/:noteId", handler.handleSetContent)
	protected.PUT("/notes/name/:noteId", handler.handleSetName)
	protected.PUT("/notes/encryption/:noteId", handler.handleSetEncryption)
	protected.DELETE("/notes/:noteId", handler.handleDeleteNote)

	return router, nil
}

type httpHandler struct {
	exchanger    GitHubExchanger
	tokens       BackendTokenManager
	users        UserResolver
	notesService *notes.Service
	channels     *channel.Handler
	keys         ChannelKeyIssuer
	logger       *zap.Logger
}

type authRequestPayload struct {
	Code string `json:"code"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleGitHubAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.exchanger.Exchange(c.Request.Context(), request.Code)
	if err != nil {
		h.logger.Warn("github code exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(identity)
	if err != nil {
		h.logger.Error("failed to resolve user identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type channelKeyResponse struct {
	ChannelKey string `json:"channelKey"`
}

func (h *httpHandler) handleChannelKey(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	key, err := h.keys.Issue(userID)
	if err != nil {
		h.logger.Error("failed to issue channel key", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "channel_key_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, channelKeyResponse{ChannelKey: key})
}

type createNoteRequest struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	noteID, err := h.notesService.CreateNote(c.Request.Context(), userID, request.Name)
	if err != nil {
		h.logger.Error("failed to create note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	h.channels.PublishNoteEvent(userID, channel.NoteEvent{
		NoteID: noteID,
		Event:  channel.NoteEventNew,
		Name:   request.Name,
	}, c.GetHeader(originChannelHeader))

	c.JSON(http.StatusCreated, gin.H{"noteId": noteID})
}

func (h *httpHandler) handleWorkspaceNotes(c *gin.Context) {
	h.listNotes(c, notes.StatusWorkspace)
}

func (h *httpHandler) handleBacklogNotes(c *gin.Context) {
	h.listNotes(c, notes.StatusBacklog)
}

func (h *httpHandler) listNotes(c *gin.Context, status notes.NoteStatus) {
	userID := c.GetString(userIDContextKey)

	var (
		collection []notes.Note
		err        error
	)
	if status == notes.StatusWorkspace {
		collection, err = h.notesService.ListWorkspaceNotes(c.Request.Context(), userID)
	} else {
		collection, err = h.notesService.ListBacklogNotes(c.Request.Context(), userID)
	}
	if err != nil {
		h.logger.Error("failed to list notes", zap.Error(err), zap.String("status", string(status)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payload := make([]notePayload, 0, len(collection))
	for _, note := range collection {
		payload = append(payload, toNotePayload(note))
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	note, err := h.notesService.GetNote(c.Request.Context(), c.Param("noteId"), userID)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to fetch note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}
	c.JSON(http.StatusOK, toNotePayload(note))
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleSetStatus(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID := c.Param("noteId")

	var request setStatusRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := notes.ParseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	if err := h.notesService.SetNoteStatus(c.Request.Context(), noteID, userID, status); err != nil {
		h.respondUpdateError(c, err, "set_status_failed")
		return
	}

	// Channels render the workspace, so entering it is NEW and leaving it
	// is REMOVE.
	eventKind := channel.NoteEventNew
	if status == notes.StatusBacklog {
		eventKind = channel.NoteEventRemove
	}
	h.channels.PublishNoteEvent(userID, channel.NoteEvent{
		NoteID: noteID,
		Event:  eventKind,
	}, c.GetHeader(originChannelHeader))

	c.Status(http.StatusNoContent)
}

type setContentRequest struct {
	ContentText *string `json:"contentText"`
	ContentHTML *string `json:"contentHTML"`
}

func (h *httpHandler) handleSetContent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID := c.Param("noteId")

	var request setContentRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.ContentText == nil || request.ContentHTML == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.notesService.SetNoteContent(c.Request.Context(), noteID, userID, *request.ContentText, *request.ContentHTML); err != nil {
		h.respondUpdateError(c, err, "set_content_failed")
		return
	}

	h.channels.PublishNoteEvent(userID, channel.NoteEvent{
		NoteID:      noteID,
		Event:       channel.NoteEventFeed,
		ContentHTML: *request.ContentHTML,
	}, c.GetHeader(originChannelHeader))

	c.Status(http.StatusNoContent)
}

type setNameRequest struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleSetName(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID := c.Param("noteId")

	var request setNameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.notesService.SetNoteName(c.Request.Context(), noteID, userID, request.Name); err != nil {
		h.respondUpdateError(c, err, "set_name_failed")
		return
	}

	h.channels.PublishNoteEvent(userID, channel.NoteEvent{
		NoteID: noteID,
		Event:  channel.NoteEventUpdate,
		Name:   request.Name,
	}, c.GetHeader(originChannelHeader))

	c.Status(http.StatusNoContent)
}

type setEncryptionRequest struct {
	ContentText *string `json:"contentText"`
	ContentHTML *string `json:"contentHTML"`
	Encryption  string  `json:"encryption"`
}

func (h *httpHandler) handleSetEncryption(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID := c.Param("noteId")

	var request setEncryptionRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.ContentText == nil || request.ContentHTML == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	encryption, err := notes.ParseEncryption(request.Encryption)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_encryption"})
		return
	}

	if err := h.notesService.SetNoteEncryption(c.Request.Context(), noteID, userID, *request.ContentText, *request.ContentHTML, encryption); err != nil {
		h.respondUpdateError(c, err, "set_encryption_failed")
		return
	}

	h.channels.PublishNoteEvent(userID, channel.NoteEvent{
		NoteID:     noteID,
		Event:      channel.NoteEventUpdate,
		Encryption: string(encryption),
	}, c.GetHeader(originChannelHeader))

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID := c.Param("noteId")

	if err := h.notesService.DeleteNote(c.Request.Context(), noteID, userID); err != nil {
		h.respondUpdateError(c, err, "delete_failed")
		return
	}

	h.channels.PublishNoteEvent(userID, channel.NoteEvent{
		NoteID: noteID,
		Event:  channel.NoteEventRemove,
	}, c.GetHeader(originChannelHeader))

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondUpdateError(c *gin.Context, err error, code string) {
	if errors.Is(err, notes.ErrNoteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if errors.Is(err, notes.ErrInvalidNoteID) || errors.Is(err, notes.ErrInvalidUserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.logger.Error("note mutation failed", zap.Error(err), zap.String("code", code))
	c.JSON(http.StatusInternalServerError, gin.H{"error": code})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

type notePayload struct {
	NoteID      string `json:"noteId"`
	Name        string `json:"name,omitempty"`
	ContentText string `json:"contentText"`
	ContentHTML string `json:"contentHTML"`
	Status      string `json:"status"`
	Encryption  string `json:"encryption"`
	CreatedAtMS int64  `json:"creationTime"`
	UpdatedAtMS int64  `json:"lastModifiedTime"`
}

func toNotePayload(note notes.Note) notePayload {
	return notePayload{
		NoteID:      note.NoteID,
		Name:        note.Name,
		ContentText: note.ContentText,
		ContentHTML: note.ContentHTML,
		Status:      string(note.Status),
		Encryption:  string(note.Encryption),
		CreatedAtMS: note.CreatedAtMS,
		UpdatedAtMS: note.UpdatedAtMS,
	}
}
