package models

import "time"

// NotificationType tags the origin of a notification row.
type NotificationType string

// NotificationTypeImportantInfo is the only type emitted today; the column
// exists so other notification sources can share the table.
const NotificationTypeImportantInfo NotificationType = "important-info"

// Notification is a derived per-(recipient, announcement) inbox row written
// by fan-out. It accelerates inbox listing and the unread badge; announcement
// visibility never depends on it.
type Notification struct {
	UserID         string           `db:"user_id" json:"user_id"`
	AnnouncementID string           `db:"announcement_id" json:"announcement_id"`
	Title          string           `db:"title" json:"title"`
	Type           NotificationType `db:"type" json:"type"`
	IsRead         bool             `db:"is_read" json:"is_read"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
