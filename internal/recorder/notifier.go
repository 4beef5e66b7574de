package recorder

import "log/slog"

// Notification ids raised by the recorder.
const (
	NotifyConnectionFailed = "recorder_connection_failed"
	NotifyMigration        = "recorder_database_migration"
	NotifyMigrationFailed  = "recorder_migration_failed"
	NotifyCorruption       = "recorder_database_corrupt"
)

// Notifier surfaces conditions an operator must see.
type Notifier interface {
	Notify(id, title, message string)
	Dismiss(id string)
}

// logNotifier writes notifications to the log.
type logNotifier struct{}

func (logNotifier) Notify(id, title, message string) {
	slog.Warn(title, "notification", id, "message", message)
}

func (logNotifier) Dismiss(id string) {
	slog.Debug("notification dismissed", "notification", id)
}
