// Package messenger delivers channel announcements and operator notices.
package messenger

import "context"

// Messenger is the pipeline's view of the chat system.
type Messenger interface {
	Send(ctx context.Context, chatID, text string) (int64, error)
	Edit(ctx context.Context, chatID string, messageID int64, text string) error
}

// Replier is implemented by messengers able to thread a post under another one.
type Replier interface {
	Reply(ctx context.Context, chatID string, replyTo int64, text string) (int64, error)
}
