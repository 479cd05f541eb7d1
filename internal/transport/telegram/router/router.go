package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketwatch/internal/runtime/supervisor"
	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
	"marketwatch/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is one routed command invocation.
type Request struct {
	Update  transport.Update
	Bot     transport.Bot
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

var errNoTextSender = errors.New("bot cannot send text")

// Reply sends an HTML message back to the originating chat.
func (r *Request) Reply(ctx context.Context, m tgui.Message) error {
	ts, ok := r.Bot.(transport.TextSender)
	if !ok {
		return errNoTextSender
	}
	_, err := m.Send(ctx, ts, r.Chat)
	return err
}

// ReplyText replies with one plain line; it is escaped for HTML.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	return r.Reply(ctx, tgui.New().Line(text).Build())
}

// ReplyArtifact sends a rendered artifact back to the originating chat.
func (r *Request) ReplyArtifact(ctx context.Context, a transport.Artifact) error {
	return r.Bot.Send(ctx, r.Chat.String(), a, "")
}

// Bots is the subset of transport.Registry the router needs.
type Bots interface {
	Lookup(platform, botID string) (transport.Bot, bool)
	All() []transport.Bot
}

type Config struct {
	Platform string // platform whose updates are routed; default "telegram"
	Owners   []int64
	Workers  int
	QueueCap int
}

// Router maps "/command args" messages to handlers and runs them on a
// bounded worker pool.
type Router struct {
	platform string
	bots     Bots
	log      logx.Logger

	mu     sync.RWMutex
	byName map[string]*Command
	cmds   []Command
	owners []int64

	workers int
	jobs    chan func()
}

func New(cfg Config, bots Bots, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Platform == "" {
		cfg.Platform = "telegram"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(2, runtime.NumCPU())
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 256
	}
	r := &Router{
		platform: cfg.Platform,
		bots:     bots,
		log:      log.With(logx.String("comp", "router")),
		workers:  cfg.Workers,
		jobs:     make(chan func(), cfg.QueueCap),
	}
	r.SetOwners(cfg.Owners)
	r.SetCommands(nil)
	return r
}

func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetCommands replaces the command set. /help is always added.
func (r *Router) SetCommands(cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpMessage())
		},
	})

	byName := map[string]*Command{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		kept = append(kept, c)
	}
	for i := range kept {
		c := &kept[i]
		byName[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.cmds = kept
	r.mu.Unlock()
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// DispatchLoop consumes updates until ctx is canceled or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	jobs := r.jobs
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					r.runJob(idx, job)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	sup.Go("menu.update", func(c context.Context) error {
		r.pushMenu(c)
		return nil
	})
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// route resolves the command synchronously and queues the handler.
func (r *Router) route(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	bot, found := r.bots.Lookup(r.platform, up.Bot)
	if !found {
		r.log.Warn("update from unknown bot", logx.String("bot", up.Bot))
		return
	}
	req := &Request{
		Update:  up,
		Bot:     bot,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: name,
		Args:    args,
		ReqID:   uuid.NewString(),
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.String("bot", up.Bot),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", name),
	)

	cmd, ok := r.lookup(name)
	if !ok {
		_ = req.ReplyText(ctx, "unknown command, try /help")
		return
	}
	req.Command = cmd.Name
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		_ = req.ReplyText(ctx, "unauthorized")
		return
	}

	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))
	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		_ = req.ReplyText(ctx, "busy, try again")
	}
}

// parseCommand splits "/name@bot arg1 arg2" into name and args.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

func (r *Router) helpMessage() tgui.Message {
	r.mu.RLock()
	cmds := append([]Command(nil), r.cmds...)
	r.mu.RUnlock()

	b := tgui.New().Title("📚", "Commands")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := tgui.Code(usage)
		if c.Description != "" {
			line += tgui.H(" - ") + tgui.Esc(c.Description)
		}
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		b.HTML(line)
	}
	return b.Build()
}
