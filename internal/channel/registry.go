package channel

import (
	"sync"

	"go.uber.org/zap"
)

// Registry tracks live channels grouped by user id. It is the only writer of
// channel membership; connect and disconnect paths both go through it.
type Registry struct {
	mu       sync.RWMutex
	channels map[string][]*Channel
	logger   *zap.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		channels: make(map[string][]*Channel),
		logger:   logger,
	}
}

// Register appends the channel to its user's collection.
func (r *Registry) Register(ch *Channel) {
	if ch == nil || ch.UserID == "" {
		return
	}
	r.mu.Lock()
	r.channels[ch.UserID] = append(r.channels[ch.UserID], ch)
	r.mu.Unlock()
	r.logger.Info("channel registered",
		zap.String("user_id", ch.UserID),
		zap.String("channel_id", ch.ID))
}

// Unregister removes the channel with the matching id from the user's
// collection. Close and error notifications for the same channel may both
// land here, so removing an absent id is a no-op.
func (r *Registry) Unregister(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	collection := r.channels[userID]
	for index, ch := range collection {
		if ch.ID != channelID {
			continue
		}
		collection = append(collection[:index], collection[index+1:]...)
		if len(collection) == 0 {
			delete(r.channels, userID)
		} else {
			r.channels[userID] = collection
		}
		r.logger.Info("channel unregistered",
			zap.String("user_id", userID),
			zap.String("channel_id", channelID))
		return
	}
}

// Others returns a snapshot of the user's live channels excluding the one
// identified. An empty exclude id matches nothing, so every channel is
// returned.
func (r *Registry) Others(userID, excludeChannelID string) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	collection := r.channels[userID]
	if len(collection) == 0 {
		return nil
	}
	others := make([]*Channel, 0, len(collection))
	for _, ch := range collection {
		if excludeChannelID != "" && ch.ID == excludeChannelID {
			continue
		}
		others = append(others, ch)
	}
	return others
}

// CountForUser reports how many channels the user currently has open.
func (r *Registry) CountForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID])
}

// CloseAll tears down every registered channel. Used on process shutdown; the
// per-channel read loops observe the transport close and unregister themselves.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	snapshot := make([]*Channel, 0)
	for _, collection := range r.channels {
		snapshot = append(snapshot, collection...)
	}
	r.mu.RUnlock()

	for _, ch := range snapshot {
		ch.Close()
	}
}
