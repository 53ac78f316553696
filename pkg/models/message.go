package models

// Message is a direct message between two users. Seq disambiguates
// messages sharing the same nanosecond timestamp and, together with TS,
// reproduces the sortable index key suffix the store uses.
type Message struct {
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
	TS       int64  `json:"ts"`
	Seq      uint64 `json:"seq"`
	// Parent is the replied-to message ID; empty means thread root.
	Parent string `json:"parent,omitempty"`
	Edited bool   `json:"edited,omitempty"`
	// LastEdited is set iff Edited is true (ns).
	LastEdited int64 `json:"last_edited,omitempty"`
	Read       bool  `json:"read,omitempty"`
}

// MessageHistory is an immutable snapshot of a message's content taken
// just before a content-changing edit.
type MessageHistory struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	OldContent string `json:"old_content"`
	EditedAt   int64  `json:"edited_at"`
	EditedBy   string `json:"edited_by"`
}
