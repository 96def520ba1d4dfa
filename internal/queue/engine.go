package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"rotabot/internal/schedule"
	"rotabot/internal/storage"
	logx "rotabot/pkg/logx"
)

const DefaultMaxPulses = 3

// Notifier delivers reminder messages. Sends are best-effort: the engine
// never rolls back a committed state change because a send failed.
type Notifier interface {
	SendToGroup(ctx context.Context, text string) error
	SendDirect(ctx context.Context, userID int64, text string) error
	HasGroup() bool
}

// Trigger is the scheduler surface the engine needs: swap one trigger
// definition and read the next fire time for the auto-pop deadline.
type Trigger interface {
	Apply(kind schedule.Kind, spec schedule.Spec) error
	Next(kind schedule.Kind) time.Time
}

type Options struct {
	// MaxPulses bounds reminder escalation; 0 means DefaultMaxPulses.
	MaxPulses int
}

// Engine is the queue/reminder state machine.
type Engine struct {
	mu sync.Mutex

	store storage.Store
	note  Notifier
	trig  Trigger
	clk   clock.Clock
	log   logx.Logger

	maxPulses int
}

func New(store storage.Store, note Notifier, trig Trigger, clk clock.Clock, opt Options, log logx.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	maxPulses := opt.MaxPulses
	if maxPulses <= 0 {
		maxPulses = DefaultMaxPulses
	}
	return &Engine{store: store, note: note, trig: trig, clk: clk, log: log, maxPulses: maxPulses}
}

// Status is a consistent read snapshot for /queue and /nextreminder.
type Status struct {
	Entries  []storage.QueueEntry
	Reminder *storage.ActiveReminder
	SkipOnce bool
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load queue: %w", err)
	}
	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load reminder: %w", err)
	}
	skip, err := e.store.SkipOnce(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load skip flag: %w", err)
	}
	return Status{Entries: entries, Reminder: rem, SkipOnce: skip}, nil
}

// InitializeQueue replaces the whole queue with the given handles, in order.
// Any in-progress reminder cycle is discarded; the next cycle starts fresh at
// the next scheduled tick.
func (e *Engine) InitializeQueue(ctx context.Context, handles []string) ([]storage.QueueEntry, error) {
	normalized, err := normalizeHandles(handles)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old, err := e.store.Queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	now := e.clk.Now()
	entries := make([]storage.QueueEntry, 0, len(normalized))
	for i, h := range normalized {
		// Keep identity for users that survive the re-init.
		entry := storage.QueueEntry{Username: h, Position: i, AddedAt: now}
		for _, o := range old {
			if strings.EqualFold(o.Username, h) {
				entry.ID = o.ID
				entry.UserID = o.UserID
				entry.FirstName = o.FirstName
				entry.LastName = o.LastName
				entry.AddedAt = o.AddedAt
				break
			}
		}
		entries = append(entries, entry)
	}

	saved, err := e.store.SaveQueue(ctx, entries, nil)
	if err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}

	newSet := make(map[string]bool, len(normalized))
	for _, h := range normalized {
		newSet[strings.ToLower(h)] = true
	}
	for _, o := range old {
		if !newSet[strings.ToLower(o.Username)] {
			e.appendHistory(ctx, o.UserID, ActionLeft, "removed by queue re-init: @"+o.Username)
		}
	}
	oldSet := make(map[string]bool, len(old))
	for _, o := range old {
		oldSet[strings.ToLower(o.Username)] = true
	}
	for _, s := range saved {
		if !oldSet[strings.ToLower(s.Username)] {
			e.appendHistory(ctx, s.UserID, ActionJoined, "added by queue init: @"+s.Username)
		}
	}

	e.log.Info("queue initialized", logx.Int("size", len(saved)))
	return saved, nil
}

// AddUser appends a handle at the tail.
func (e *Engine) AddUser(ctx context.Context, handle string) (storage.QueueEntry, error) {
	h := normalizeHandle(handle)
	if h == "" {
		return storage.QueueEntry{}, fmt.Errorf("%w: empty username", ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return storage.QueueEntry{}, fmt.Errorf("load queue: %w", err)
	}
	for _, o := range entries {
		if strings.EqualFold(o.Username, h) {
			return storage.QueueEntry{}, fmt.Errorf("@%s: %w", h, ErrDuplicate)
		}
	}
	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return storage.QueueEntry{}, fmt.Errorf("load reminder: %w", err)
	}

	entry := storage.QueueEntry{Username: h, Position: len(entries), AddedAt: e.clk.Now()}
	saved, err := e.store.SaveQueue(ctx, append(entries, entry), rem)
	if err != nil {
		return storage.QueueEntry{}, fmt.Errorf("save queue: %w", err)
	}
	added := saved[len(saved)-1]

	e.appendHistory(ctx, added.UserID, ActionJoined, "added by admin: @"+added.Username)
	e.log.Info("user added", logx.String("username", added.Username), logx.Int("position", added.Position))
	return added, nil
}

// RemoveUser removes a handle and closes the position gap. If the removed
// user held the active reminder, the cycle is cleared; the new head is not
// reminded until the next scheduled tick.
func (e *Engine) RemoveUser(ctx context.Context, handle string) error {
	h := normalizeHandle(handle)
	if h == "" {
		return fmt.Errorf("%w: empty username", ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	idx := -1
	for i, o := range entries {
		if strings.EqualFold(o.Username, h) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("@%s: %w", h, ErrNotFound)
	}
	removed := entries[idx]

	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}
	if rem != nil && rem.EntryID == removed.ID {
		rem = nil
	}

	rest := append(entries[:idx:idx], entries[idx+1:]...)
	renumber(rest)
	if _, err := e.store.SaveQueue(ctx, rest, rem); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}

	e.appendHistory(ctx, removed.UserID, ActionLeft, "removed by admin: @"+removed.Username)
	e.log.Info("user removed", logx.String("username", removed.Username))
	return nil
}

// ClearQueue removes everyone and clears any active reminder.
func (e *Engine) ClearQueue(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if _, err := e.store.SaveQueue(ctx, nil, nil); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	for _, o := range entries {
		e.appendHistory(ctx, o.UserID, ActionLeft, "queue cleared: @"+o.Username)
	}
	e.log.Info("queue cleared", logx.Int("removed", len(entries)))
	return nil
}

// StartWeeklyReminder arms a reminder cycle for the head of the queue and
// sends the first pulse. Empty queue is a silent no-op; a cycle already
// armed for the current head makes the call idempotent.
func (e *Engine) StartWeeklyReminder(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCycleLocked(ctx)
}

func (e *Engine) startCycleLocked(ctx context.Context) error {
	skip, err := e.store.SkipOnce(ctx)
	if err != nil {
		return fmt.Errorf("load skip flag: %w", err)
	}
	if skip {
		if err := e.store.ClearSkipOnce(ctx); err != nil {
			return fmt.Errorf("clear skip flag: %w", err)
		}
		e.log.Info("reminder cycle suppressed by skip flag")
		if e.note.HasGroup() {
			if err := e.note.SendToGroup(ctx, "📋 This week's review has been skipped as requested. Normal schedule will resume next week."); err != nil {
				e.log.Warn("skip notice delivery failed", logx.Err(err))
			}
		}
		return nil
	}

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if len(entries) == 0 {
		e.log.Debug("no users in queue to remind")
		return nil
	}
	head := entries[0]

	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}
	if rem != nil {
		if rem.EntryID == head.ID {
			// Overlapping trigger before the previous cycle resolved.
			e.log.Debug("reminder already armed for head", logx.String("username", head.Username))
			return nil
		}
		e.log.Warn("stale reminder for departed entry, re-arming",
			logx.Int64("stale_entry_id", rem.EntryID), logx.Int64("head_entry_id", head.ID))
	}

	now := e.clk.Now()
	fresh := &storage.ActiveReminder{
		EntryID:     head.ID,
		UserID:      head.UserID,
		Username:    head.Username,
		Pulses:      0,
		CreatedAt:   now,
		LastPulseAt: now,
		NextPulseAt: e.trig.Next(schedule.KindAutoPop),
	}
	if err := e.store.SetActiveReminder(ctx, fresh); err != nil {
		return fmt.Errorf("save reminder: %w", err)
	}

	e.notifyTurn(ctx, head)
	e.appendHistory(ctx, head.UserID, ActionReminded, "reminder cycle started for @"+head.Username)
	e.log.Info("reminder cycle started", logx.String("username", head.Username))
	return nil
}

// Skip resolves the actor's active reminder, rotates them to the tail and
// immediately starts a cycle for the new head. Only the reminder subject may
// skip; anyone else gets ErrNoReminder.
func (e *Engine) Skip(ctx context.Context, actorID int64, actorUsername string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}
	if rem == nil || !reminderHeldBy(rem, actorID, actorUsername) {
		return ErrNoReminder
	}

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	idx := -1
	for i, o := range entries {
		if o.ID == rem.EntryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Reminder points at a removed entry; drop it and report no reminder.
		if err := e.store.SetActiveReminder(ctx, nil); err != nil {
			return fmt.Errorf("clear reminder: %w", err)
		}
		return ErrNoReminder
	}

	subject := entries[idx]
	if subject.UserID == 0 && actorID != 0 {
		// Manual adds carry no numeric id; the first /skip resolves it.
		entries[idx].UserID = actorID
		subject = entries[idx]
	}

	rotated := rotateToTail(entries, idx)
	if _, err := e.store.SaveQueue(ctx, rotated, nil); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}

	e.appendHistory(ctx, subject.UserID, ActionSkipped, "skipped their turn: @"+subject.Username)
	e.log.Info("turn skipped", logx.String("username", subject.Username))

	// Eagerly hand the turn to the new head instead of waiting for the tick.
	return e.startCycleLocked(ctx)
}

// AutoPop is the deadline trigger. Below the pulse bound it escalates
// (resend + increment); at the bound it rotates the subject to the tail and
// clears the cycle without starting a new one.
func (e *Engine) AutoPop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}
	if rem == nil {
		return nil
	}

	entries, err := e.store.Queue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	idx := -1
	for i, o := range entries {
		if o.ID == rem.EntryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.log.Warn("reminder subject no longer queued, clearing", logx.Int64("entry_id", rem.EntryID))
		if err := e.store.SetActiveReminder(ctx, nil); err != nil {
			return fmt.Errorf("clear reminder: %w", err)
		}
		return nil
	}
	subject := entries[idx]

	if rem.Pulses < e.maxPulses {
		rem.Pulses++
		rem.LastPulseAt = e.clk.Now()
		rem.NextPulseAt = e.trig.Next(schedule.KindAutoPop)
		if err := e.store.SetActiveReminder(ctx, rem); err != nil {
			return fmt.Errorf("save reminder: %w", err)
		}
		e.notifyTurn(ctx, subject)
		e.appendHistory(ctx, subject.UserID, ActionReminded,
			fmt.Sprintf("escalation pulse %d/%d for @%s", rem.Pulses, e.maxPulses, subject.Username))
		e.log.Info("reminder escalated",
			logx.String("username", subject.Username), logx.Int("pulses", rem.Pulses))
		return nil
	}

	rotated := rotateToTail(entries, idx)
	if _, err := e.store.SaveQueue(ctx, rotated, nil); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	e.appendHistory(ctx, subject.UserID, ActionAutoPopped, "moved to back after auto-pop deadline: @"+subject.Username)
	e.log.Info("auto-popped", logx.String("username", subject.Username))
	return nil
}

// NoReview cancels the current cycle without reordering and arms the
// skip-once flag so the next scheduled reminder is suppressed too.
// Returns the cancelled reminder, if there was one.
func (e *Engine) NoReview(ctx context.Context, actorID int64) (*storage.ActiveReminder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rem, err := e.store.ActiveReminder(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reminder: %w", err)
	}
	if rem != nil {
		if err := e.store.SetActiveReminder(ctx, nil); err != nil {
			return nil, fmt.Errorf("clear reminder: %w", err)
		}
	}
	if err := e.store.SetSkipOnce(ctx, fmt.Sprintf("admin %d used /noreview", actorID)); err != nil {
		return nil, fmt.Errorf("set skip flag: %w", err)
	}

	var subject int64
	if rem != nil {
		subject = rem.UserID
	}
	e.appendHistory(ctx, subject, ActionNoReview, fmt.Sprintf("cycle skipped by admin %d", actorID))
	e.log.Info("review cycle skipped", logx.Int64("admin_id", actorID), logx.Bool("had_reminder", rem != nil))
	return rem, nil
}

// SetSchedule validates and installs a new trigger time, persisting it so it
// survives restarts.
func (e *Engine) SetSchedule(ctx context.Context, kind schedule.Kind, spec schedule.Spec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SetSchedule(ctx, kind, spec); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	if err := e.trig.Apply(kind, spec); err != nil {
		return fmt.Errorf("apply schedule: %w", err)
	}
	e.log.Info("schedule updated", logx.String("kind", string(kind)), logx.String("at", spec.String()))
	return nil
}

// notifyTurn delivers the "your turn" message, preferring the group chat and
// falling back to a DM when no group target is set. Best-effort.
func (e *Engine) notifyTurn(ctx context.Context, entry storage.QueueEntry) {
	if e.note.HasGroup() {
		text := fmt.Sprintf("@%s 🔔\n\nIt's your turn for paper review!\n\nPlease use /skip to pass to the next person.", entry.Username)
		if err := e.note.SendToGroup(ctx, text); err != nil {
			e.log.Warn("group reminder delivery failed", logx.String("username", entry.Username), logx.Err(err))
		}
		return
	}
	if entry.UserID == 0 {
		e.log.Warn("cannot deliver reminder: no group chat set and user id unknown",
			logx.String("username", entry.Username))
		return
	}
	text := fmt.Sprintf("Hello %s! 🔔\n\nIt's your turn for paper review!\n\nPlease use /skip to pass to the next person.", displayName(entry))
	if err := e.note.SendDirect(ctx, entry.UserID, text); err != nil {
		e.log.Warn("direct reminder delivery failed", logx.Int64("user_id", entry.UserID), logx.Err(err))
	}
}

func (e *Engine) appendHistory(ctx context.Context, userID int64, action, note string) {
	rec := storage.HistoryRecord{UserID: userID, Action: action, At: e.clk.Now(), Note: note}
	if err := e.store.AppendHistory(ctx, rec); err != nil {
		e.log.Warn("history append failed", logx.String("action", action), logx.Err(err))
	}
}

func reminderHeldBy(rem *storage.ActiveReminder, actorID int64, actorUsername string) bool {
	if rem.UserID != 0 && rem.UserID == actorID {
		return true
	}
	return rem.Username != "" && strings.EqualFold(rem.Username, normalizeHandle(actorUsername))
}

// rotateToTail moves entries[idx] to the end, preserving relative order of
// the rest, and renumbers positions densely from 0.
func rotateToTail(entries []storage.QueueEntry, idx int) []storage.QueueEntry {
	out := make([]storage.QueueEntry, 0, len(entries))
	out = append(out, entries[:idx]...)
	out = append(out, entries[idx+1:]...)
	out = append(out, entries[idx])
	renumber(out)
	return out
}

func renumber(entries []storage.QueueEntry) {
	for i := range entries {
		entries[i].Position = i
	}
}

func normalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

func normalizeHandles(handles []string) ([]string, error) {
	if len(handles) == 0 {
		return nil, fmt.Errorf("%w: at least one username is required", ErrValidation)
	}
	out := make([]string, 0, len(handles))
	seen := make(map[string]bool, len(handles))
	for _, h := range handles {
		n := normalizeHandle(h)
		if n == "" {
			return nil, fmt.Errorf("%w: empty username", ErrValidation)
		}
		key := strings.ToLower(n)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate username @%s", ErrValidation, n)
		}
		seen[key] = true
		out = append(out, n)
	}
	return out, nil
}

// displayName picks a human-friendly name: first name, then username, then id.
func displayName(e storage.QueueEntry) string {
	if e.FirstName != "" {
		return e.FirstName
	}
	if e.Username != "" {
		return e.Username
	}
	return fmt.Sprintf("User %d", e.UserID)
}
