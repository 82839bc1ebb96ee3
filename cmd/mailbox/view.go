package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/reaction"
	"github.com/vedran77/mailbox/internal/store"
)

// chatView prints store changes for one conversation.
type chatView struct {
	out            io.Writer
	store          *store.MessageStore
	conversationID uuid.UUID
	userID         uuid.UUID
	otherLabel     string

	mu sync.Mutex
}

func (v *chatView) onChange(ch store.Change) {
	if ch.ConversationID != v.conversationID {
		return
	}

	switch ch.Kind {
	case store.ChangeInserted, store.ChangeMerged, store.ChangeEdited, store.ChangeReaction, store.ChangeFailed,
		store.ChangeReconciled, store.ChangeStatus:
		v.printMessage(ch.MessageID)
	case store.ChangeRemoved:
		v.println("(message removed)")
	}
}

func (v *chatView) printHistory() {
	msgs := v.store.Messages(v.conversationID)
	if len(msgs) == 0 {
		v.println("No messages yet. Type to send, /help for commands.")
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, m := range msgs {
		fmt.Fprintln(v.out, formatMessage(i+1, m, v.userID, v.otherLabel))
	}
}

func (v *chatView) printMessage(messageID string) {
	msgs := v.store.Messages(v.conversationID)
	for i, m := range msgs {
		if m.ID == messageID {
			v.println(formatMessage(i+1, m, v.userID, v.otherLabel))
			return
		}
	}
}

func (v *chatView) println(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, s)
}

func formatMessage(n int, m domain.Message, self uuid.UUID, otherLabel string) string {
	var b strings.Builder

	who := otherLabel
	if m.SenderID == self {
		who = "You"
	}
	fmt.Fprintf(&b, "[%d] %s %s: ", n, m.CreatedAt.Local().Format("15:04"), who)

	b.WriteString(m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, " 📎%s", a.Name)
	}
	if m.Edited {
		b.WriteString(" (edited)")
	}
	for _, g := range reaction.Summary(m.Reactions) {
		fmt.Fprintf(&b, " %s%d", g.Emoji, g.Count)
	}
	if m.SenderID == self {
		b.WriteString("  ")
		b.WriteString(statusGlyph(m.Status))
	}
	return b.String()
}

func statusGlyph(s domain.Status) string {
	switch s {
	case domain.StatusSending:
		return "…"
	case domain.StatusSent:
		return "✓"
	case domain.StatusDelivered:
		return "✓✓"
	case domain.StatusRead:
		return "✓✓ read"
	case domain.StatusFailed:
		return "✗ failed, /retry to resend"
	}
	return s.String()
}
