package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownChannel is returned when a channel ID cannot be mapped to a
// platform-specific target.
var ErrUnknownChannel = errors.New("unknown channel")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

// Update is an inbound event from a bot. Bot is the bot ID that received it,
// so replies go out through the same bot.
type Update struct {
	Kind    UpdateKind
	Bot     string
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// ParseChatTarget parses "chat" or "chat:thread".
func ParseChatTarget(channelID string) (ChatTarget, error) {
	s := strings.TrimSpace(channelID)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("%w: empty channel id", ErrUnknownChannel)
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("%w: %q: %v", ErrUnknownChannel, channelID, err)
	}
	t := ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(thread)
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("%w: bad thread in %q", ErrUnknownChannel, channelID)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// String is the inverse of ParseChatTarget.
func (t ChatTarget) String() string {
	s := strconv.FormatInt(t.ChatID, 10)
	if t.ThreadID > 0 {
		s += ":" + strconv.Itoa(t.ThreadID)
	}
	return s
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Artifact is one rendered change report. Exactly one of Image or Text is
// expected to be set; Image wins when both are.
type Artifact struct {
	Image     []byte
	Name      string // file name hint for image artifacts, e.g. "market.png"
	Caption   string
	Text      string
	ParseMode string
}

func (a Artifact) IsImage() bool { return len(a.Image) > 0 }

// Size is the payload size in bytes.
func (a Artifact) Size() int {
	if a.IsImage() {
		return len(a.Image)
	}
	return len(a.Text)
}

// Sender delivers an artifact to one channel. guildID is optional and
// platform-specific.
type Sender interface {
	Send(ctx context.Context, channelID string, a Artifact, guildID string) error
}

// TextSender sends plain operator/reply text.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Bot is a configured bot instance on a platform.
type Bot interface {
	Sender
	Platform() string
	ID() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that bots can implement
// to update platform-specific command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
