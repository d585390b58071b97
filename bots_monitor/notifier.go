package bots_monitor

import (
	"context"

	"buybot/internal/clients_api/telegram"
	"buybot/internal/features/buys"
)

// Notifier delivers buy notifications through Telegram.
type Notifier struct {
	sender *telegram.Sender
}

func NewNotifier(sender *telegram.Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) SendNotification(ctx context.Context, chatID int64, note buys.Notification) error {
	out := telegram.Outgoing{ChatID: chatID, Text: note.Text}

	if note.Image != nil {
		out.Photo = &telegram.Photo{FileID: note.Image.FileID, Bytes: note.Image.PNG}
	}
	if len(note.Buttons) > 0 {
		row := make([]telegram.Button, 0, len(note.Buttons))
		for _, b := range note.Buttons {
			row = append(row, telegram.Button{Text: b.Text, URL: b.URL})
		}
		out.Keyboard = [][]telegram.Button{row}
	}
	return n.sender.Send(ctx, out)
}
