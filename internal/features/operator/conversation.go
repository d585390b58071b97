package operator

import (
	"sync"
	"time"
)

// State is what the bot expects next from a chat after a menu action.
type State int

const (
	Idle State = iota
	AwaitingImage
	AwaitingEmoji
	AwaitingBuyStep
)

func (s State) String() string {
	switch s {
	case AwaitingImage:
		return "awaiting_image"
	case AwaitingEmoji:
		return "awaiting_emoji"
	case AwaitingBuyStep:
		return "awaiting_buy_step"
	default:
		return "idle"
	}
}

type chatState struct {
	state   State
	expires time.Time
	// pendingImage is an uploaded photo waiting for /setbuyimage; it does not expire.
	pendingImage string
}

// conversations tracks per-chat state. An expired state reads as Idle.
type conversations struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	chats   map[int64]*chatState
}

func newConversations(timeout time.Duration) *conversations {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &conversations{timeout: timeout, now: time.Now, chats: make(map[int64]*chatState)}
}

func (c *conversations) get(chatID int64) *chatState {
	cs, ok := c.chats[chatID]
	if !ok {
		cs = &chatState{}
		c.chats[chatID] = cs
	}
	return cs
}

// State returns the current state of chatID, expiring it when due.
func (c *conversations) State(chatID int64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.chats[chatID]
	if !ok {
		return Idle
	}
	if cs.state != Idle && c.now().After(cs.expires) {
		cs.state = Idle
	}
	return cs.state
}

func (c *conversations) Enter(chatID int64, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.get(chatID)
	cs.state = s
	cs.expires = c.now().Add(c.timeout)
}

// Consume returns the active state and resets the chat to Idle.
func (c *conversations) Consume(chatID int64) State {
	s := c.State(chatID)
	if s != Idle {
		c.Reset(chatID)
	}
	return s
}

func (c *conversations) Reset(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.chats[chatID]; ok {
		cs.state = Idle
	}
}

func (c *conversations) SetPendingImage(chatID int64, fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(chatID).pendingImage = fileID
}

// TakePendingImage returns and clears the pending upload, "" when there is none.
func (c *conversations) TakePendingImage(chatID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.chats[chatID]
	if !ok {
		return ""
	}
	id := cs.pendingImage
	cs.pendingImage = ""
	return id
}
