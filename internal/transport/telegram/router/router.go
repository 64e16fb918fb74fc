package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	rtsup "lulubot/internal/runtime/supervisor"
	kit "lulubot/internal/transport"
	logx "lulubot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string // "" for fallback requests
	Args    []string
	ReqID   string
	Owner   bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends text with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

type Options struct {
	Workers   int // default NumCPU, at least 2
	QueueSize int // default 256
	// DefaultTimeout applies to commands without their own Timeout.
	DefaultTimeout time.Duration
}

// Router dispatches slash commands to registered handlers and everything
// else to the fallback. Handlers run on a bounded worker pool.
type Router struct {
	mu       sync.RWMutex
	cmds     map[string]*Command
	order    []*Command
	fallback HandlerFunc
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	jobs  chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Router{
		cmds:    map[string]*Command{},
		owners:  append([]int64(nil), owners...),
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		opt:     opt,
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Router) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isOwner(id, m.owners)
}

// SetFallback handles non-command messages and channel posts.
func (m *Router) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetCommands replaces the registry. /help is always added. The menu update
// is best-effort and runs in the background.
func (m *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	})

	reg := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cp := &c
		reg[name] = cp
		order = append(order, cp)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := reg[a]; !taken {
					reg[a] = cp
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = reg
	m.order = order
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(order)
		go func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (m *Router) lookup(name string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[name]
	return c, ok
}

func (m *Router) commands() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Command(nil), m.order...)
}

// Supervisor returns the worker pool supervisor (nil when not running).
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

// Run consumes updates until ctx is done or updates is closed.
func (m *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()

	for i := 0; i < m.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owner := m.IsOwner(msg.FromID)

	name, args, isCmd := ParseCommand(msg.Text)
	if !isCmd || up.Kind == kit.UpdateChannelPost {
		m.mu.RLock()
		fb := m.fallback
		m.mu.RUnlock()
		if fb != nil {
			m.enqueue(ctx, m.newRequest(up, chat, "", nil, owner), fb, 0)
		}
		return
	}

	cmd, ok := m.lookup(name)
	if !ok {
		_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	m.enqueue(ctx, m.newRequest(up, chat, cmd.Name, args, owner), cmd.Handle, timeout)
}

func (m *Router) newRequest(up kit.Update, chat kit.ChatTarget, cmd string, args []string, owner bool) *Request {
	rid := ulid.Make().String()
	msg := up.Message
	return &Request{
		Update:  up,
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd,
		Args:    args,
		ReqID:   rid,
		Owner:   owner,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd),
		),
	}
}

func (m *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

// ParseCommand splits "/name@bot arg1 arg2". ok is false for non-commands.
func ParseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func isOwner(id int64, owners []int64) bool {
	if id == 0 {
		return false
	}
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
