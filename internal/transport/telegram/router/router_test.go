package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "lulubot/internal/transport"
	logx "lulubot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	texts []string
	menu  []kit.BotCommand
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: from, FromID: from, Text: text}}
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestParseCommand(t *testing.T) {
	name, args, ok := ParseCommand("  /Post_Now@LuluBot 5 extra ")
	assert.True(t, ok)
	assert.Equal(t, "post_now", name)
	assert.Equal(t, []string{"5", "extra"}, args)

	_, _, ok = ParseCommand("hello")
	assert.False(t, ok)
	_, _, ok = ParseCommand("/")
	assert.False(t, ok)
}

func TestSanitizeCommand(t *testing.T) {
	assert.Equal(t, "start_worker", sanitizeCommand("/Start-Worker"))
	assert.Equal(t, "queue", sanitizeCommand(" queue "))
	assert.Equal(t, "cmd_1x", sanitizeCommand("1x"))
	assert.Equal(t, "", sanitizeCommand("!!!"))
}

func TestRoutesCommandsWithAccess(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, []int64{7}, Options{Workers: 1})

	var mu sync.Mutex
	var got []string
	r.SetCommands(context.Background(), []Command{
		{Name: "stats", Aliases: []string{"s"}, Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			got = append(got, req.Command+":"+req.ReqID[:0])
			mu.Unlock()
			return nil
		}},
		{Name: "sweep", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			got = append(got, "sweep")
			mu.Unlock()
			assert.True(t, req.Owner)
			return nil
		}},
	})

	updates := startRouter(t, r)
	updates <- msg(7, "/s")
	updates <- msg(8, "/sweep")
	updates <- msg(7, "/sweep")
	updates <- msg(7, "/nope")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && len(fa.sent()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"stats:", "sweep"}, got)
	assert.ElementsMatch(t, []string{"unauthorized", "Unknown command. Try /help"}, fa.sent())
}

func TestFallbackGetsPlainMessagesAndChannelPosts(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, Options{Workers: 2})
	r.SetCommands(context.Background(), nil)

	var mu sync.Mutex
	var seen []string
	r.SetFallback(func(ctx context.Context, req *Request) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.Message.Text)
		assert.Empty(t, req.Command)
		return nil
	})

	updates := startRouter(t, r)
	updates <- msg(5, "https://example.com/a.mp4")
	updates <- kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ChatID: -100, Text: "/stats", IsChannel: true}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"https://example.com/a.mp4", "/stats"}, seen)
}

func TestHelpAndMenu(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, []int64{1}, Options{Workers: 1})
	noop := func(ctx context.Context, req *Request) error { return nil }
	r.SetCommands(context.Background(), []Command{
		{Name: "stats", Description: "Queue statistics", Handle: noop},
		{Name: "clear_failed", Description: "Delete failed items", Access: AccessOwnerOnly, Usage: "/clear_failed", Handle: noop},
	})

	top := r.helpText(nil)
	assert.Contains(t, top, "<code>/stats</code> - Queue statistics")
	assert.Contains(t, top, "🔒 <code>/clear_failed</code>")
	assert.Less(t, strings.Index(top, "/stats"), strings.Index(top, "/clear_failed"))

	one := r.helpText([]string{"clear_failed"})
	assert.Contains(t, one, "Owner only")
	assert.Contains(t, one, "<b>Usage</b>")
	assert.Contains(t, r.helpText([]string{"zzz"}), "Unknown command")

	require.Eventually(t, func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		return len(fa.menu) == 3
	}, time.Second, 5*time.Millisecond)
	fa.mu.Lock()
	assert.Equal(t, "clear_failed", fa.menu[0].Command)
	assert.Equal(t, "🔒 Delete failed items", fa.menu[0].Description)
	fa.mu.Unlock()
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, Options{Workers: 1})
	done := make(chan struct{})
	r.SetCommands(context.Background(), []Command{
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("x") }},
		{Name: "ok", Handle: func(ctx context.Context, req *Request) error { close(done); return nil }},
	})
	updates := startRouter(t, r)
	updates <- msg(1, "/boom")
	updates <- msg(1, "/ok")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}
