package publishers

import (
	"time"

	"github.com/google/uuid"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

// Lifecycle event types.
const (
	EventPublished   = "gallery.published"
	EventUpdated     = "gallery.updated"
	EventRepublished = "gallery.republished"
)

// Event is the payload published downstream when a gallery changes.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	GalleryID  int64       `json:"gallery_id"`
	Title      string      `json:"title"`
	Tags       domain.Tags `json:"tags,omitempty"`
	Pages      int         `json:"pages"`
	ArticleURL string      `json:"article_url"`
	SourceURL  string      `json:"source_url"`
	MessageID  int64       `json:"message_id"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewEvent constructs an Event of type typ for gallery g.
func NewEvent(typ string, g domain.GalleryEntity, articleURL, sourceURL string, messageID int64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		GalleryID:  g.ID,
		Title:      g.DisplayTitle(),
		Tags:       g.Tags,
		Pages:      g.Pages,
		ArticleURL: articleURL,
		SourceURL:  sourceURL,
		MessageID:  messageID,
		OccurredAt: at.UTC(),
	}
}

// attributes are the routing attributes attached to queued messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"event_id":   e.ID,
	}
}
