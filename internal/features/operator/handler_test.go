package operator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"buybot/internal/features/buys"
	"buybot/internal/infra/metrics"
	"buybot/internal/settings"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	saveErr error
}

func (m *memPersister) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, settings.ErrNotFound
	}
	return m.data, nil
}

func (m *memPersister) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memPersister) Close() error { return nil }

type recordingTrigger struct {
	events []buys.BuyEvent
	accept bool
}

func (r *recordingTrigger) Trigger(events []buys.BuyEvent) int {
	r.events = append(r.events, events...)
	if !r.accept {
		return 0
	}
	return len(events)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newHandler(t *testing.T, opts Options) (*Handler, *settings.Store, *memPersister, *recordingTrigger) {
	t.Helper()
	p := &memPersister{}
	store := settings.NewStore(p, nil)
	require.NoError(t, store.Load(context.Background(), false))
	trig := &recordingTrigger{accept: true}
	return NewHandler(store, trig, nil, opts), store, p, trig
}

func cmd(chat int64, name, args string) Request {
	return Request{ChatID: chat, UserID: chat, MessageID: 5, Command: name, Args: args}
}

func TestStartShowsMenu(t *testing.T) {
	h, _, _, _ := newHandler(t, Options{})
	resp := h.Handle(context.Background(), cmd(1, "start", ""))
	require.Contains(t, resp.Text, "Welcome")
	require.Equal(t, 5, resp.ReplyTo)
	require.Equal(t, CallbackActivate, resp.Keyboard[0][0].Data)
	require.Equal(t, "layout:festive", resp.Keyboard[4][1].Data)
}

func TestTrackAndUntrackPersist(t *testing.T) {
	h, store, p, _ := newHandler(t, Options{})

	resp := h.Handle(context.Background(), cmd(1, "track", ""))
	require.Equal(t, "Tracking activated!", resp.Text)
	require.True(t, store.Snapshot().TrackingEnabled)
	require.Equal(t, 1, p.saves)

	resp = h.Handle(context.Background(), Request{ChatID: 1, Callback: CallbackDeactivate})
	require.Equal(t, "Tracking deactivated!", resp.Text)
	require.Equal(t, "Tracking deactivated!", resp.Notice)
	require.False(t, store.Snapshot().TrackingEnabled)
	require.Equal(t, 2, p.saves)
}

func TestInvalidBuyStepLeavesSettingsUnchanged(t *testing.T) {
	h, store, p, _ := newHandler(t, Options{})
	before := store.Snapshot()

	for _, arg := range []string{"0", "-3", "abc", ""} {
		resp := h.Handle(context.Background(), cmd(1, "setbuystep", arg))
		if arg == "" {
			require.Equal(t, AwaitingBuyStep, h.State(1))
			continue
		}
		require.NotEmpty(t, resp.Text)
		require.Equal(t, before, store.Snapshot(), "arg %q", arg)
	}
	require.Zero(t, p.saves)

	resp := h.Handle(context.Background(), cmd(1, "setbuystep", "2.5"))
	require.Equal(t, "Buy step set to 2.5.", resp.Text)
	require.Equal(t, 2.5, store.Snapshot().BuyStep)
}

func TestPersistFailureIsStillAcknowledged(t *testing.T) {
	h, store, p, _ := newHandler(t, Options{})
	p.saveErr = errors.New("disk full")

	resp := h.Handle(context.Background(), cmd(1, "setminbuy", "0.25"))
	require.Equal(t, "Minimum buy set to 0.25.", resp.Text)
	require.Equal(t, 0.25, store.Snapshot().MinBuyAmount)
}

func TestAddAndRemoveGroup(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})

	require.Contains(t, h.Handle(context.Background(), cmd(-100, "addgroup", "")).Text, "now receive")
	require.Contains(t, h.Handle(context.Background(), cmd(-100, "addgroup", "")).Text, "already subscribed")
	require.Equal(t, []int64{-100}, store.Chats())

	require.Contains(t, h.Handle(context.Background(), cmd(-100, "removegroup", "")).Text, "no longer")
	require.Contains(t, h.Handle(context.Background(), cmd(-100, "removegroup", "")).Text, "was not subscribed")
	require.Empty(t, store.Chats())
}

func TestEmojisCommandAndConversation(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})

	h.Handle(context.Background(), cmd(1, "setemojis", "🚀  🌕"))
	require.Equal(t, []string{"🚀", "🌕"}, store.Snapshot().CustomEmojis)

	h.Handle(context.Background(), Request{ChatID: 1, Callback: CallbackSetEmojis})
	require.Equal(t, AwaitingEmoji, h.State(1))
	resp := h.Handle(context.Background(), Request{ChatID: 1, Text: "🐶 🐱"})
	require.Contains(t, resp.Text, "Emojis set")
	require.Equal(t, []string{"🐶", "🐱"}, store.Snapshot().CustomEmojis)
	require.Equal(t, Idle, h.State(1))

	// text outside a conversation is ignored
	require.Empty(t, h.Handle(context.Background(), Request{ChatID: 1, Text: "hello"}).Text)
}

func TestConversationTimesOut(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	h, store, _, _ := newHandler(t, Options{ConversationTimeout: time.Minute, Now: c.now})

	h.Handle(context.Background(), Request{ChatID: 1, Callback: CallbackSetBuyStep})
	require.Equal(t, AwaitingBuyStep, h.State(1))

	c.t = c.t.Add(2 * time.Minute)
	require.Equal(t, Idle, h.State(1))
	require.Empty(t, h.Handle(context.Background(), Request{ChatID: 1, Text: "7"}).Text)
	require.Equal(t, settings.DefaultBuyStep, store.Snapshot().BuyStep)
}

func TestRejectedConversationInputReturnsToIdle(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})
	h.Handle(context.Background(), Request{ChatID: 1, Callback: CallbackSetBuyStep})

	resp := h.Handle(context.Background(), Request{ChatID: 1, Text: "0"})
	require.Contains(t, resp.Text, "greater than 0")
	require.Equal(t, Idle, h.State(1))
	require.Equal(t, settings.DefaultBuyStep, store.Snapshot().BuyStep)
}

func TestImageFlows(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})

	resp := h.Handle(context.Background(), cmd(1, "setbuyimage", ""))
	require.Contains(t, resp.Text, "No image uploaded")

	// upload then confirm
	resp = h.Handle(context.Background(), Request{ChatID: 1, PhotoFileID: "pending-1"})
	require.Contains(t, resp.Text, "/setbuyimage")
	require.Empty(t, store.Snapshot().BuyImageFileID)
	h.Handle(context.Background(), cmd(1, "setbuyimage", ""))
	require.Equal(t, "pending-1", store.Snapshot().BuyImageFileID)

	// menu path confirms on upload
	h.Handle(context.Background(), Request{ChatID: 1, Callback: CallbackSetImage})
	require.Equal(t, AwaitingImage, h.State(1))
	resp = h.Handle(context.Background(), Request{ChatID: 1, PhotoFileID: "direct-2"})
	require.Equal(t, "Buy image updated successfully.", resp.Text)
	require.Equal(t, "direct-2", store.Snapshot().BuyImageFileID)
	require.Equal(t, Idle, h.State(1))
}

func TestLayoutClearsCustomEmojis(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})
	resp := h.Handle(context.Background(), Request{ChatID: 1, Callback: "layout:festive"})
	require.Contains(t, resp.Text, "🎉🚀🔥")
	st := store.Snapshot()
	require.Equal(t, settings.LayoutFestive, st.SelectedEmojiLayout)
	require.Empty(t, st.CustomEmojis)

	resp = h.Handle(context.Background(), cmd(1, "setlayout", "rainbow"))
	require.Contains(t, resp.Text, "Unknown layout")
	require.Equal(t, settings.LayoutFestive, store.Snapshot().SelectedEmojiLayout)
}

func TestChartURLAndSupply(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})

	resp := h.Handle(context.Background(), cmd(1, "setcharturl", "http://insecure"))
	require.Contains(t, resp.Text, "Invalid URL")
	require.Empty(t, store.Snapshot().DexScreenerURL)

	h.Handle(context.Background(), cmd(1, "setcharturl", "https://dexscreener.com/solana/x"))
	require.Equal(t, "https://dexscreener.com/solana/x", store.Snapshot().DexScreenerURL)

	resp = h.Handle(context.Background(), cmd(1, "setsupply", "1.5"))
	require.Contains(t, resp.Text, "whole number")
	resp = h.Handle(context.Background(), cmd(1, "setsupply", "1,000,000"))
	require.Equal(t, "Token supply set to 1,000,000.", resp.Text)
}

func TestToggleShuffle(t *testing.T) {
	h, store, _, _ := newHandler(t, Options{})
	require.Equal(t, "Emoji shuffle on.", h.Handle(context.Background(), cmd(1, "toggle_shuffle", "")).Text)
	require.True(t, store.Snapshot().Shuffle)
	require.Equal(t, "Emoji shuffle off.", h.Handle(context.Background(), Request{ChatID: 1, Callback: CallbackToggleShuffle}).Text)
}

func TestSimulatedBuy(t *testing.T) {
	h, _, _, trig := newHandler(t, Options{})

	resp := h.Handle(context.Background(), cmd(7, "buy", "1.5"))
	require.Equal(t, "Simulated buy of 1.5 queued.", resp.Text)
	require.Len(t, trig.events, 1)
	require.Equal(t, 1.5, trig.events[0].Amount)
	require.Equal(t, buys.OriginManual, trig.events[0].Origin)

	trig.accept = false
	resp = h.Handle(context.Background(), cmd(7, "buy", "2"))
	require.Contains(t, resp.Text, "tracking is off")

	resp = h.Handle(context.Background(), cmd(7, "buy", "0"))
	require.Contains(t, resp.Text, "greater than 0")
}

func TestAdminRestriction(t *testing.T) {
	m := metrics.New()
	p := &memPersister{}
	store := settings.NewStore(p, m)
	h := NewHandler(store, nil, m, Options{AdminIDs: []int64{42}})

	resp := h.Handle(context.Background(), cmd(1, "track", ""))
	require.Equal(t, "Only bot admins can change settings.", resp.Text)
	require.False(t, store.Snapshot().TrackingEnabled)
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsHandled.WithLabelValues("track", "denied")))

	// read-only commands stay open
	require.Contains(t, h.Handle(context.Background(), cmd(1, "help", "")).Text, "/setbuystep")

	// an admin user inside a group chat is allowed
	resp = h.Handle(context.Background(), Request{ChatID: -5, UserID: 42, Command: "addgroup"})
	require.Contains(t, resp.Text, "now receive")
	require.Equal(t, 1.0, testutil.ToFloat64(m.SubscribedChats))
}

func TestUnknownCommand(t *testing.T) {
	m := metrics.New()
	p := &memPersister{}
	h := NewHandler(settings.NewStore(p, m), nil, m, Options{})
	resp := h.Handle(context.Background(), cmd(1, "frobnicate", ""))
	require.Contains(t, resp.Text, "Unknown command")
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsHandled.WithLabelValues("unknown", "ok")))
}
