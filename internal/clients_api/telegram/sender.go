package telegram

// Thin wrapper over tgbotapi used by the notification path and the command router.
// Callers build Outgoing values; the wrapper owns parse mode, keyboards and the
// caption length limit.

import (
	"context"
	"net/http"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// MaxCaptionLength is the Telegram limit for photo captions, in characters.
const MaxCaptionLength = 1024

// API is the subset of *tgbotapi.BotAPI the sender needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Button is either a URL button or a callback button (Data set).
type Button struct {
	Text string
	URL  string
	Data string
}

// Photo references an already uploaded file or carries PNG bytes.
type Photo struct {
	FileID string
	Name   string
	Bytes  []byte
}

type Outgoing struct {
	ChatID   int64
	ReplyTo  int
	Text     string
	Photo    *Photo
	Keyboard [][]Button
}

// NewBotAPI creates a bot whose HTTP calls are bounded by timeout.
func NewBotAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// long polling holds the request open for up to 60s on top of the send timeout
	client := &http.Client{Timeout: timeout + 60*time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	return bot, nil
}

type Sender struct {
	api API
}

func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// Send delivers one message. A photo whose caption exceeds the Telegram limit
// goes out bare and the text follows as a separate message.
func (s *Sender) Send(ctx context.Context, out Outgoing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if out.Photo == nil {
		return s.sendText(out.ChatID, out.ReplyTo, out.Text, out.Keyboard)
	}

	caption := out.Text
	longCaption := utf8.RuneCountInString(caption) > MaxCaptionLength
	if longCaption {
		caption = ""
	}

	photo := tgbotapi.NewPhoto(out.ChatID, photoFile(out.Photo))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyToMessageID = out.ReplyTo
	if !longCaption && len(out.Keyboard) > 0 {
		photo.ReplyMarkup = keyboard(out.Keyboard)
	}
	if _, err := s.api.Send(photo); err != nil {
		return errors.Wrapf(err, "failed to send photo to chat %d", out.ChatID)
	}

	if longCaption {
		return s.sendText(out.ChatID, 0, out.Text, out.Keyboard)
	}
	return nil
}

func (s *Sender) sendText(chatID int64, replyTo int, text string, rows [][]Button) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyTo
	if len(rows) > 0 {
		msg.ReplyMarkup = keyboard(rows)
	}
	if _, err := s.api.Send(msg); err != nil {
		return errors.Wrapf(err, "failed to send message to chat %d", chatID)
	}
	return nil
}

// AnswerCallback acknowledges an inline button press so the client stops its spinner.
func (s *Sender) AnswerCallback(callbackID, text string) error {
	if _, err := s.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return errors.Wrapf(err, "failed to answer callback %s", callbackID)
	}
	return nil
}

func photoFile(p *Photo) tgbotapi.RequestFileData {
	if p.FileID != "" {
		return tgbotapi.FileID(p.FileID)
	}
	name := p.Name
	if name == "" {
		name = "buy.png"
	}
	return tgbotapi.FileBytes{Name: name, Bytes: p.Bytes}
}

func keyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		if len(buttons) > 0 {
			out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
