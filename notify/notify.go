// Package notify carries user-facing notifications out of band from HTTP
// responses: note creation, download summaries and server state changes.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier receives human-readable notifications.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at info level. A nil logger
// falls back to slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the message.
func (n *LogNotifier) Notify(ctx context.Context, message string) {
	n.logger.InfoContext(ctx, "notice", slog.String("message", message))
}

// Recorder keeps every notification in memory. It is safe for concurrent
// use; tests use it to inspect summaries.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	next     Notifier
}

// NewRecorder creates a recorder that also forwards to next, if non-nil.
func NewRecorder(next Notifier) *Recorder {
	return &Recorder{next: next}
}

// Notify records the message and forwards it.
func (r *Recorder) Notify(ctx context.Context, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()

	if r.next != nil {
		r.next.Notify(ctx, message)
	}
}

// Messages returns a copy of the recorded messages in arrival order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}
