// Package notify delivers transient user-facing notifications for sync
// outcomes. The UI layer supplies its own implementation; the default
// writes to the structured log.
package notify

import "github.com/sirupsen/logrus"

// Notifier receives sync completion and failure notices.
type Notifier interface {
	Success(title, detail string)
	Failure(title, detail string)
}

// LogNotifier writes notifications to a logrus entry.
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log}
}

// Success implements Notifier.
func (n *LogNotifier) Success(title, detail string) {
	n.log.WithField("detail", detail).Info(title)
}

// Failure implements Notifier.
func (n *LogNotifier) Failure(title, detail string) {
	n.log.WithField("detail", detail).Error(title)
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Success(title, detail string) {}
func (Discard) Failure(title, detail string) {}
