package channel

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Channel is a single live websocket connection belonging to one user. Its id
// is the one-time key that was consumed to establish it, which lets REST
// clients name their own channel when asking to be excluded from fan-out.
type Channel struct {
	ID     string
	UserID string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewChannel wraps an upgraded websocket connection.
func NewChannel(id, userID string, conn *websocket.Conn) *Channel {
	return &Channel{
		ID:     id,
		UserID: userID,
		conn:   conn,
	}
}

// Send writes one text message to the peer. Writes are serialized because both
// the read loop and the dispatcher may deliver to the same channel.
func (c *Channel) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ReadMessage blocks until the next inbound message or transport error.
func (c *Channel) ReadMessage() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

// Close tears down the underlying transport.
func (c *Channel) Close() {
	c.conn.Close() //nolint:errcheck
}
