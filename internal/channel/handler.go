package channel

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const channelSessionQueryParam = "channelSession"

var (
	errMissingKeyStore   = errors.New("channel: key store is required")
	errMissingRegistry   = errors.New("channel: registry is required")
	errMissingCoalescer  = errors.New("channel: coalescer is required")
	errMissingDispatcher = errors.New("channel: dispatcher is required")
)

// HandlerConfig bundles the collaborators of the sync protocol handler.
type HandlerConfig struct {
	Keys       *KeyStore
	Registry   *Registry
	Coalescer  *Coalescer
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	// CheckOrigin overrides the upgrader origin policy. Defaults to
	// allowing any origin; access control happens via the one-time key.
	CheckOrigin func(r *http.Request) bool
}

// Handler runs the per-connection sync protocol: handshake, registration,
// message loop, teardown.
type Handler struct {
	keys       *KeyStore
	registry   *Registry
	coalescer  *Coalescer
	dispatcher *Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHandler validates dependencies and constructs a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Keys == nil {
		return nil, errMissingKeyStore
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Coalescer == nil {
		return nil, errMissingCoalescer
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		keys:       cfg.Keys,
		registry:   cfg.Registry,
		coalescer:  cfg.Coalescer,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}, nil
}

// HandleConnection performs the handshake and, on success, runs the message
// loop until the channel closes. The one-time key is taken from the
// channelSession query parameter; a failed handshake is rejected with 403 and
// never registers a channel.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get(channelSessionQueryParam)
	userID, err := h.keys.Take(key)
	if err != nil {
		h.logger.Warn("channel handshake rejected", zap.Error(err))
		http.Error(w, "invalid channel session", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("channel upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	ch := NewChannel(key, userID, conn)
	h.registry.Register(ch)
	h.readLoop(ch)
}

// PublishNoteEvent lets mutations performed outside any channel (REST
// endpoints) fan out to the user's open channels. excludeChannelID may be
// empty when the caller has no originating channel.
func (h *Handler) PublishNoteEvent(userID string, event NoteEvent, excludeChannelID string) {
	h.dispatcher.Publish(userID, event, excludeChannelID)
}

func (h *Handler) readLoop(ch *Channel) {
	defer func() {
		h.registry.Unregister(ch.UserID, ch.ID)
		ch.Close()
	}()

	for {
		raw, err := ch.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				h.logger.Warn("channel read failed",
					zap.String("user_id", ch.UserID),
					zap.String("channel_id", ch.ID),
					zap.Error(err))
			}
			return
		}
		h.handleMessage(ch, raw)
	}
}

// handleMessage processes one inbound edit. A malformed message is logged and
// dropped; the connection stays open.
func (h *Handler) handleMessage(ch *Channel, raw []byte) {
	var update IncomingNoteUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		h.logger.Warn("malformed channel message",
			zap.String("user_id", ch.UserID),
			zap.String("channel_id", ch.ID),
			zap.Error(err))
		return
	}
	if update.NoteID == "" {
		h.logger.Warn("channel message missing note id",
			zap.String("user_id", ch.UserID),
			zap.String("channel_id", ch.ID))
		return
	}

	h.coalescer.RecordEdit(update.NoteID, ch.UserID, update.ContentText, update.ContentHTML)
	h.dispatcher.Publish(ch.UserID, NoteEvent{
		NoteID:      update.NoteID,
		Event:       NoteEventFeed,
		ContentHTML: update.ContentHTML,
	}, ch.ID)
}
