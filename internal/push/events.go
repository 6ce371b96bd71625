package push

// EventType identifies a live-push event.
type EventType string

const (
	EventNewAnnouncement      EventType = "new-announcement"
	EventAnnouncementSent     EventType = "announcement-sent"
	EventNotificationUpdated  EventType = "notification-updated"
	EventAllRead              EventType = "all-read"
	EventNotificationsCleared EventType = "notifications-cleared"
)

// RecipientCountPending is sent on the admin channel while role/all
// resolution is still running in the background.
const RecipientCountPending = "pending"

// Event is a fire-and-forget push payload. Events carry notification
// metadata only, never announcement bodies; clients re-fetch state through
// the query API after reconnecting.
type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// NewAnnouncementEvent notifies a recipient about a freshly sent announcement.
func NewAnnouncementEvent(announcementID, title string, urgent bool) Event {
	return Event{
		Type: EventNewAnnouncement,
		Payload: map[string]interface{}{
			"announcement_id": announcementID,
			"title":           title,
			"urgent":          urgent,
		},
	}
}

// AnnouncementSentEvent summarizes a send on the admin channel. recipientCount
// is an int once resolution finished, or RecipientCountPending.
func AnnouncementSentEvent(announcementID, title string, recipientCount interface{}) Event {
	return Event{
		Type: EventAnnouncementSent,
		Payload: map[string]interface{}{
			"announcement_id": announcementID,
			"title":           title,
			"recipient_count": recipientCount,
		},
	}
}

// NotificationUpdatedEvent tells a client its unread badge decreased.
func NotificationUpdatedEvent() Event {
	return Event{
		Type:    EventNotificationUpdated,
		Payload: map[string]interface{}{"count_decreased": true},
	}
}

// AllReadEvent signals every notification was marked read.
func AllReadEvent() Event {
	return Event{Type: EventAllRead}
}

// NotificationsClearedEvent signals the inbox was emptied.
func NotificationsClearedEvent() Event {
	return Event{Type: EventNotificationsCleared}
}
