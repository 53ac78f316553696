package models

// NotificationType classifies why a notification was produced.
type NotificationType string

const (
	NotificationMessage NotificationType = "message"
	NotificationReply   NotificationType = "reply"
	NotificationMention NotificationType = "mention"
	NotificationSystem  NotificationType = "system"
)

// Notification is a feed entry for a user. Message is the originating
// message ID and may be empty for system notifications.
type Notification struct {
	ID        string           `json:"id"`
	User      string           `json:"user"`
	Message   string           `json:"message,omitempty"`
	Content   string           `json:"content"`
	Type      NotificationType `json:"type"`
	CreatedAt int64            `json:"created_at"`
	Seq       uint64           `json:"seq"`
	Read      bool             `json:"read,omitempty"`
}
