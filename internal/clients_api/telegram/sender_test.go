package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	err      error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, f.err
}

func TestSendText(t *testing.T) {
	api := &fakeAPI{}
	err := NewSender(api).Send(context.Background(), Outgoing{
		ChatID:   42,
		ReplyTo:  7,
		Text:     "<b>hi</b>",
		Keyboard: [][]Button{{{Text: "Buy", URL: "https://example.com"}, {Text: "On", Data: "activate"}}},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, int64(42), msg.ChatID)
	require.Equal(t, 7, msg.ReplyToMessageID)
	require.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	require.True(t, msg.DisableWebPagePreview)

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Equal(t, "https://example.com", *kb.InlineKeyboard[0][0].URL)
	require.Equal(t, "activate", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestSendPhotoWithCaption(t *testing.T) {
	api := &fakeAPI{}
	err := NewSender(api).Send(context.Background(), Outgoing{
		ChatID: 1,
		Text:   "caption",
		Photo:  &Photo{FileID: "AgAD"},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	photo, ok := api.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	require.Equal(t, "caption", photo.Caption)
	require.Equal(t, tgbotapi.FileID("AgAD"), photo.File)
}

func TestSendPhotoLongCaptionSplits(t *testing.T) {
	api := &fakeAPI{}
	long := strings.Repeat("🟢", MaxCaptionLength+1)
	err := NewSender(api).Send(context.Background(), Outgoing{
		ChatID: 1,
		Text:   long,
		Photo:  &Photo{Bytes: []byte{0x89, 'P', 'N', 'G'}},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 2)

	photo := api.sent[0].(tgbotapi.PhotoConfig)
	require.Empty(t, photo.Caption)
	require.Equal(t, "buy.png", photo.File.(tgbotapi.FileBytes).Name)
	require.Equal(t, long, api.sent[1].(tgbotapi.MessageConfig).Text)
}

func TestSendWrapsErrors(t *testing.T) {
	api := &fakeAPI{err: errors.New("Forbidden: bot was kicked")}
	err := NewSender(api).Send(context.Background(), Outgoing{ChatID: 99, Text: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat 99")
	require.Contains(t, err.Error(), "bot was kicked")
}

func TestSendHonorsCancelledContext(t *testing.T) {
	api := &fakeAPI{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewSender(api).Send(ctx, Outgoing{ChatID: 1, Text: "x"}), context.Canceled)
	require.Empty(t, api.sent)
}

func TestAnswerCallback(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, NewSender(api).AnswerCallback("cb1", "done"))
	require.Len(t, api.requests, 1)
	cb := api.requests[0].(tgbotapi.CallbackConfig)
	require.Equal(t, "cb1", cb.CallbackQueryID)
}
