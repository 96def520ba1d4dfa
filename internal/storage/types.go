package storage

import (
	"context"
	"time"

	"rotabot/internal/schedule"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// QueueEntry is one enrolled user.
//
// UserID may be 0 for users added by username only; the numeric id is
// resolved lazily (e.g. when the user runs /skip).
type QueueEntry struct {
	ID        int64
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Position  int
	AddedAt   time.Time
}

// ActiveReminder is the at-most-one in-progress reminder cycle.
type ActiveReminder struct {
	EntryID     int64
	UserID      int64
	Username    string
	Pulses      int
	CreatedAt   time.Time
	LastPulseAt time.Time
	NextPulseAt time.Time
}

// HistoryRecord is an append-only audit row. Never read back by the engine.
type HistoryRecord struct {
	UserID int64
	Action string
	At     time.Time
	Note   string
}

// Store is the persistence API consumed by the queue engine and the app.
type Store interface {
	// Queue returns all entries ordered by position.
	Queue(ctx context.Context) ([]QueueEntry, error)

	// SaveQueue atomically replaces the queue ordering and the active
	// reminder (nil clears it). Entries with ID 0 are inserted; the returned
	// slice carries the assigned ids.
	SaveQueue(ctx context.Context, entries []QueueEntry, rem *ActiveReminder) ([]QueueEntry, error)

	ActiveReminder(ctx context.Context) (*ActiveReminder, error)
	// SetActiveReminder stores the active reminder; nil clears it.
	SetActiveReminder(ctx context.Context, rem *ActiveReminder) error

	AppendHistory(ctx context.Context, rec HistoryRecord) error

	Schedule(ctx context.Context, kind schedule.Kind) (schedule.Spec, bool, error)
	SetSchedule(ctx context.Context, kind schedule.Kind, spec schedule.Spec) error

	GroupChatID(ctx context.Context) (int64, bool, error)
	SetGroupChatID(ctx context.Context, chatID int64) error

	SkipOnce(ctx context.Context) (bool, error)
	SetSkipOnce(ctx context.Context, reason string) error
	ClearSkipOnce(ctx context.Context) error

	Close() error
}
