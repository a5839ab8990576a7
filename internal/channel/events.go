package channel

// NoteEventKind enumerates the outbound note-change events a channel may receive.
type NoteEventKind string

const (
	// NoteEventNew announces a note that should appear in the workspace.
	NoteEventNew NoteEventKind = "NEW"
	// NoteEventUpdate announces a note property change (name, encryption).
	NoteEventUpdate NoteEventKind = "UPDATE"
	// NoteEventRemove announces that a note left the workspace or was deleted.
	NoteEventRemove NoteEventKind = "REMOVE"
	// NoteEventFeed announces new note content.
	NoteEventFeed NoteEventKind = "FEED"
)

// NoteEvent is the wire payload fanned out to a user's open channels.
type NoteEvent struct {
	NoteID      string        `json:"noteId"`
	Event       NoteEventKind `json:"event"`
	Name        string        `json:"name,omitempty"`
	ContentHTML string        `json:"contentHTML,omitempty"`
	Encryption  string        `json:"encryption,omitempty"`
}

// IncomingNoteUpdate is the inbound message shape accepted on a channel.
// Content fields may be empty, the note id may not.
type IncomingNoteUpdate struct {
	NoteID      string `json:"noteId"`
	ContentText string `json:"contentText"`
	ContentHTML string `json:"contentHTML"`
}
