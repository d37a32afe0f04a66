package views

import (
	"fmt"

	"github.com/loomchat/loom/internal/chat"
	"github.com/rivo/tview"
)

// MessageThread displays the messages of the open conversation.
type MessageThread struct {
	*tview.TextView
	selfID int64
}

// NewMessageThread creates the thread view. selfID marks own messages.
func NewMessageThread(selfID int64) *MessageThread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &MessageThread{TextView: tv, selfID: selfID}
}

// SetConversation updates the title with the conversation name.
func (mt *MessageThread) SetConversation(conv chat.Conversation) {
	mt.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(conv.DisplayName()))))
}

// Update re-renders the thread, oldest first.
func (mt *MessageThread) Update(msgs []chat.Message) {
	mt.Clear()

	for _, m := range msgs {
		sender := fmt.Sprintf("user %d", m.SenderID)
		if m.SenderID == mt.selfID {
			sender = "You"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s %s[-:-:-]\n%s\n\n",
			sender,
			formatTimestamp(m.CreatedAt),
			statusGlyph(m),
			tview.Escape(sanitizeForTerminal(m.Content.Preview())))
		_, _ = fmt.Fprint(mt, line)
	}

	mt.ScrollToEnd()
}

// statusGlyph renders the delivery state of own messages. Pending
// entries show an ellipsis until a confirmation replaces them.
func statusGlyph(m chat.Message) string {
	if m.Status == chat.StatusFailed {
		return "[red]x failed[-]"
	}
	if !m.Confirmed() {
		return "[::d]...[-:-:-]"
	}
	switch m.Status {
	case chat.StatusRead:
		return "[green]vv[-]"
	case chat.StatusDelivered:
		return "vv"
	default:
		return "v"
	}
}
