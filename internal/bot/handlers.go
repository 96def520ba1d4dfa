package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"rotabot/internal/queue"
	"rotabot/internal/schedule"
	logx "rotabot/pkg/logx"
)

func (b *Bot) handleStart(ctx context.Context, c tele.Context) error {
	return c.Send(startText(b.gate.Allowed(ctx, senderID(c), groupChatID(c))))
}

func (b *Bot) handleHelp(ctx context.Context, c tele.Context) error {
	return c.Send(helpText(b.gate.Allowed(ctx, senderID(c), groupChatID(c))))
}

func (b *Bot) handleQueue(ctx context.Context, c tele.Context) error {
	st, err := b.engine.Status(ctx)
	if err != nil {
		_ = c.Send("Something went wrong reading the queue.")
		return err
	}
	if len(st.Entries) == 0 {
		return c.Send("The queue is empty.")
	}
	var username string
	if s := c.Sender(); s != nil {
		username = s.Username
	}
	return c.Send(formatQueue(st, senderID(c), username))
}

func (b *Bot) handleSkip(ctx context.Context, c tele.Context) error {
	s := c.Sender()
	if s == nil {
		return nil
	}
	err := b.engine.Skip(ctx, s.ID, s.Username)
	if errors.Is(err, queue.ErrNoReminder) {
		return c.Send("You don't have an active reminder to skip.")
	}
	if err != nil {
		_ = c.Send("Something went wrong, your turn was not skipped.")
		return err
	}
	return c.Send("You've skipped your turn. Moving to the next person in queue.")
}

func (b *Bot) handleSetGroup(ctx context.Context, c tele.Context) error {
	ch := c.Chat()
	if ch == nil || (ch.Type != tele.ChatGroup && ch.Type != tele.ChatSuperGroup) {
		return c.Send("This command can only be used in a group chat.")
	}
	if err := b.store.SetGroupChatID(ctx, ch.ID); err != nil {
		_ = c.Send("Something went wrong, the group was not saved.")
		return err
	}
	b.gw.SetGroup(ch.ID)
	b.log.Info("group chat set", logx.Int64("chat_id", ch.ID))
	return c.Send(fmt.Sprintf("Group chat set! Reminders will be sent to this group.\nGroup ID: %d", ch.ID))
}

func (b *Bot) handleAddUser(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /adduser @username\nExample: /adduser @john")
	}
	entry, err := b.engine.AddUser(ctx, args[0])
	if errors.Is(err, queue.ErrDuplicate) {
		return c.Send(fmt.Sprintf("@%s is already in the queue.", strings.TrimPrefix(args[0], "@")))
	}
	if errors.Is(err, queue.ErrValidation) {
		return c.Send("Usage: /adduser @username\nExample: /adduser @john")
	}
	if err != nil {
		_ = c.Send("Something went wrong, the user was not added.")
		return err
	}
	return c.Send(fmt.Sprintf("Added @%s to the queue at position %d!", entry.Username, entry.Position+1))
}

func (b *Bot) handleRemoveUser(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /removeuser @username\nExample: /removeuser @john")
	}
	handle := strings.TrimPrefix(args[0], "@")
	err := b.engine.RemoveUser(ctx, handle)
	if errors.Is(err, queue.ErrNotFound) {
		return c.Send(fmt.Sprintf("@%s not found in the queue.", handle))
	}
	if errors.Is(err, queue.ErrValidation) {
		return c.Send("Usage: /removeuser @username\nExample: /removeuser @john")
	}
	if err != nil {
		_ = c.Send("Something went wrong, the user was not removed.")
		return err
	}
	return c.Send(fmt.Sprintf("Removed @%s from the queue.", handle))
}

func (b *Bot) handleInitQueue(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /initqueue @user1 @user2 @user3\n" +
			"Example: /initqueue @alice @bob @charlie\n\n" +
			"This will replace the entire queue with the provided users.")
	}
	entries, err := b.engine.InitializeQueue(ctx, args)
	if errors.Is(err, queue.ErrValidation) {
		return c.Send(fmt.Sprintf("Cannot initialize the queue: %s", validationMessage(err)))
	}
	if err != nil {
		_ = c.Send("Something went wrong, the queue was not initialized.")
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Queue initialized with %d users:\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. @%s\n", i+1, e.Username)
	}
	return c.Send(strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleClearQueue(ctx context.Context, c tele.Context) error {
	if err := b.engine.ClearQueue(ctx); err != nil {
		_ = c.Send("Something went wrong, the queue was not cleared.")
		return err
	}
	return c.Send("Queue cleared successfully.")
}

func (b *Bot) handleSetSchedule(ctx context.Context, c tele.Context) error {
	return b.setTrigger(ctx, c, schedule.KindReminder)
}

func (b *Bot) handleSetAutoPop(ctx context.Context, c tele.Context) error {
	return b.setTrigger(ctx, c, schedule.KindAutoPop)
}

func (b *Bot) setTrigger(ctx context.Context, c tele.Context, kind schedule.Kind) error {
	args := c.Args()
	if len(args) < 3 {
		return c.Send(scheduleUsage(kind))
	}
	spec, err := schedule.ParseSpec(args[0], args[1], args[2])
	if err != nil {
		return c.Send(err.Error())
	}
	if err := b.engine.SetSchedule(ctx, kind, spec); err != nil {
		if errors.Is(err, queue.ErrValidation) {
			return c.Send(validationMessage(err))
		}
		_ = c.Send("Something went wrong, the schedule was not updated.")
		return err
	}

	tz := b.sched.Location()
	if kind == schedule.KindAutoPop {
		return c.Send(fmt.Sprintf(
			"Auto-pop schedule updated!\nUsers with active reminders will be auto-popped every %s at %02d:%02d (%s)",
			spec.DayName(), spec.Hour, spec.Minute, tz))
	}
	return c.Send(fmt.Sprintf(
		"Schedule updated!\nReminders will be sent every %s at %02d:%02d (%s)",
		spec.DayName(), spec.Hour, spec.Minute, tz))
}

func (b *Bot) handleNoReview(ctx context.Context, c tele.Context) error {
	st, err := b.engine.Status(ctx)
	if err != nil {
		_ = c.Send("Something went wrong.")
		return err
	}
	if len(st.Entries) == 0 {
		return c.Send("The queue is empty. Nothing to skip.")
	}
	head := st.Entries[0]

	cancelled, err := b.engine.NoReview(ctx, senderID(c))
	if err != nil {
		_ = c.Send("Something went wrong, this week's review was not skipped.")
		return err
	}
	if cancelled != nil {
		return c.Send(fmt.Sprintf(
			"✓ Cancelled active reminder for @%s.\n✓ Set skip flag to prevent next scheduled reminder.\n\n"+
				"This week's review has been skipped. Queue order remains unchanged.", cancelled.Username))
	}
	return c.Send(fmt.Sprintf(
		"✓ Set skip flag to prevent next scheduled reminder for @%s.\n\n"+
			"This week's review will be skipped. Queue order remains unchanged.", head.Username))
}

func (b *Bot) handleNextReminder(ctx context.Context, c tele.Context) error {
	st, err := b.engine.Status(ctx)
	if err != nil {
		_ = c.Send("Something went wrong.")
		return err
	}

	next := b.sched.Next(schedule.KindReminder)
	nextText := "Not scheduled"
	if !next.IsZero() {
		nextText = next.In(b.sched.Location()).Format("2006-01-02 15:04:05 MST")
	}

	return c.Send(formatNextReminder(st, nextText))
}

// validationMessage strips the sentinel prefix so the user sees only the
// human part ("day must be between ...").
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
