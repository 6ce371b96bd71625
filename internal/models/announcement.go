package models

import (
	"time"

	"github.com/lib/pq"
)

// AttachmentKind classifies an attachment for storage and rendering.
type AttachmentKind string

const (
	AttachmentKindPDF      AttachmentKind = "pdf"
	AttachmentKindImage    AttachmentKind = "image"
	AttachmentKindDocument AttachmentKind = "document"
)

// Announcement is the canonical record of an important-information message.
// The record itself is immutable after creation; only the per-user read and
// delete ledgers grow.
type Announcement struct {
	ID          string         `db:"id" json:"id"`
	Title       string         `db:"title" json:"title"`
	Body        string         `db:"body" json:"body"`
	Urgent      bool           `db:"urgent" json:"urgent"`
	Recipients  pq.StringArray `db:"recipients" json:"recipients"`
	SenderID    string         `db:"sender_id" json:"sender_id"`
	SenderName  string         `db:"sender_name" json:"sender_name"`
	SenderEmail string         `db:"sender_email" json:"sender_email"`
	SenderRole  UserRole       `db:"sender_role" json:"sender_role"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`

	Attachments []Attachment `db:"-" json:"attachments"`
}

// Attachment references stored binary content attached to an announcement.
type Attachment struct {
	ID             string         `db:"id" json:"id"`
	AnnouncementID string         `db:"announcement_id" json:"-"`
	Filename       string         `db:"filename" json:"filename"`
	OriginalName   string         `db:"original_name" json:"original_name"`
	ContentRef     string         `db:"content_ref" json:"content_ref"`
	Kind           AttachmentKind `db:"kind" json:"kind"`
	SizeBytes      int64          `db:"size_bytes" json:"size_bytes"`
	Position       int            `db:"position" json:"-"`
}

// ReadReceipt is one entry of the append-only read ledger.
type ReadReceipt struct {
	AnnouncementID string    `db:"announcement_id" json:"-"`
	UserID         string    `db:"user_id" json:"user_id"`
	ReadAt         time.Time `db:"read_at" json:"read_at"`
}

// DeleteMarker is one entry of the append-only per-user delete ledger.
// Deletion removes visibility for that user only.
type DeleteMarker struct {
	AnnouncementID string    `db:"announcement_id" json:"-"`
	UserID         string    `db:"user_id" json:"user_id"`
	DeletedAt      time.Time `db:"deleted_at" json:"deleted_at"`
}

// AnnouncementWithReadState decorates a visible announcement with the
// caller's read flag.
type AnnouncementWithReadState struct {
	Announcement
	IsRead bool `db:"is_read" json:"is_read"`
}

// VisibilityFilter identifies the user a visibility query runs for.
type VisibilityFilter struct {
	UserID   string
	Role     UserRole
	Page     int
	PageSize int
}
