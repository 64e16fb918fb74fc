package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"lulubot/internal/hosting"
	"lulubot/internal/queue"
	"lulubot/internal/transport/telegram/router"
	"lulubot/pkg/tgui"
)

const listLimit = 10

func (a *App) commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Welcome and quick guide", Handle: a.cmdStart},
		{Name: "stats", Description: "Queue statistics", Handle: a.cmdStats},
		{
			Name: "add_url", Aliases: []string{"add"}, Description: "Queue a video URL",
			Usage: "/add_url <url> [title]", Access: router.AccessOwnerOnly, Handle: a.cmdAddURL,
		},
		{Name: "start_worker", Description: "Start the upload worker", Access: router.AccessOwnerOnly, Handle: a.cmdStartWorker},
		{Name: "stop_worker", Description: "Stop the upload worker after the current item", Access: router.AccessOwnerOnly, Handle: a.cmdStopWorker},
		{Name: "start_scheduler", Description: "Start timed posting", Access: router.AccessOwnerOnly, Handle: a.cmdStartScheduler},
		{Name: "stop_scheduler", Description: "Stop timed posting", Access: router.AccessOwnerOnly, Handle: a.cmdStopScheduler},
		{
			Name: "post_now", Description: "Post uploaded videos now",
			Usage: "/post_now [n]", Access: router.AccessOwnerOnly, Timeout: 15 * time.Minute, Handle: a.cmdPostNow,
		},
		{
			Name: "queue", Description: "List queue items by status",
			Usage: "/queue [pending|uploading|uploaded|posted|failed]", Access: router.AccessOwnerOnly, Handle: a.cmdQueue,
		},
		{Name: "recent", Description: "Recently posted videos", Access: router.AccessOwnerOnly, Handle: a.cmdRecent},
		{Name: "clear_failed", Description: "Delete failed items", Access: router.AccessOwnerOnly, Handle: a.cmdClearFailed},
		{Name: "sweep", Description: "Requeue stale uploads", Access: router.AccessOwnerOnly, Handle: a.cmdSweep},
		{
			Name: "encoding", Description: "Encoding progress of an uploaded video",
			Usage: "/encoding <queue id|file code>", Access: router.AccessOwnerOnly, Handle: a.cmdEncoding,
		},
	}
}

// replyErr reports err to the chat and hands it back for the request log.
func replyErr(ctx context.Context, req *router.Request, what string, err error) error {
	_ = req.Reply(ctx, "❌ "+what+": "+err.Error())
	return err
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	b.WriteString("👋 Welcome!\n\n")
	b.WriteString("🎬 LuluStream Auto Upload Bot\n\n")
	b.WriteString("Send me a video, a video document or a link and I will upload it to LuluStream, ")
	b.WriteString("then post it to the channel on schedule.\n\n")
	b.WriteString("How it works:\n")
	b.WriteString("1. Send a video URL or file\n")
	b.WriteString("2. It joins the upload queue\n")
	b.WriteString("3. The worker uploads it to LuluStream\n")
	b.WriteString("4. The scheduler posts it to the main channel\n\n")
	b.WriteString("Use /help for the command list.")
	return req.Reply(ctx, b.String())
}

func (a *App) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return replyErr(ctx, req, "Error getting stats", err)
	}
	var b strings.Builder
	b.WriteString("📊 Queue Statistics\n\n")
	fmt.Fprintf(&b, "📦 Total: %d\n", st.Total)
	fmt.Fprintf(&b, "⏳ Pending: %d\n", st.Count(queue.StatusPending))
	fmt.Fprintf(&b, "⬆️ Uploading: %d\n", st.Count(queue.StatusUploading))
	fmt.Fprintf(&b, "✅ Uploaded: %d\n", st.Count(queue.StatusUploaded))
	fmt.Fprintf(&b, "📤 Posted: %d\n", st.Count(queue.StatusPosted))
	fmt.Fprintf(&b, "❌ Failed: %d\n\n", st.Count(queue.StatusFailed))
	fmt.Fprintf(&b, "🤖 Worker: %s\n", runningLabel(a.worker.Running()))
	fmt.Fprintf(&b, "⏰ Scheduler: %s", runningLabel(a.poster.Running()))
	if next := a.poster.NextRun(); !next.IsZero() {
		fmt.Fprintf(&b, " (next %s)", humanize.Time(next))
	}
	return req.Reply(ctx, b.String())
}

func runningLabel(on bool) string {
	if on {
		return "🟢 Running"
	}
	return "🔴 Stopped"
}

func (a *App) cmdAddURL(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "❌ Please provide a video URL\n\nUsage: /add_url <url> [title]")
	}
	raw := req.Args[0]
	if !validURL(raw) {
		return req.Reply(ctx, "❌ Invalid URL")
	}
	item := queue.NewItem{
		FileURL:         raw,
		FileName:        hosting.FileNameFromURL(raw, fallbackName(req.Message.ID)),
		Title:           strings.Join(req.Args[1:], " "),
		SourceChatID:    req.Chat.ChatID,
		SourceMessageID: req.Message.ID,
	}
	id, err := a.enqueue(ctx, item, "url")
	if err != nil {
		return replyErr(ctx, req, "Failed to add to queue", err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Added to queue!\n\n📝 File: %s\n🔗 URL: %s\n🆔 Queue ID: %s%s",
		item.FileName, raw, id, a.workerHint()))
}

func (a *App) workerHint() string {
	if a.worker.Running() {
		return ""
	}
	return "\n\nUse /start_worker to begin uploading"
}

func (a *App) cmdStartWorker(ctx context.Context, req *router.Request) error {
	if !a.worker.Start(a.runContext()) {
		return req.Reply(ctx, "⚠️ Worker is already running!")
	}
	return req.Reply(ctx, "✅ Upload worker started!")
}

func (a *App) cmdStopWorker(ctx context.Context, req *router.Request) error {
	if !a.worker.Stop() {
		return req.Reply(ctx, "⚠️ Worker is not running!")
	}
	msg := "✅ Upload worker stopped!"
	if id := a.worker.Current(); id != "" {
		msg = "✅ Upload worker will stop after the current upload (" + id + ")."
	}
	return req.Reply(ctx, msg)
}

func (a *App) cmdStartScheduler(ctx context.Context, req *router.Request) error {
	started, err := a.poster.Start()
	if err != nil {
		return replyErr(ctx, req, "Scheduler not started", err)
	}
	if !started {
		return req.Reply(ctx, "⚠️ Scheduler is already running!")
	}
	msg := "✅ Post scheduler started!"
	if next := a.poster.NextRun(); !next.IsZero() {
		msg += "\nNext batch " + humanize.Time(next) + "."
	}
	return req.Reply(ctx, msg)
}

func (a *App) cmdStopScheduler(ctx context.Context, req *router.Request) error {
	if !a.poster.Stop() {
		return req.Reply(ctx, "⚠️ Scheduler is not running!")
	}
	return req.Reply(ctx, "✅ Post scheduler stopped!")
}

func (a *App) cmdPostNow(ctx context.Context, req *router.Request) error {
	n := 1
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return req.Reply(ctx, "❌ Usage: /post_now [n]")
		}
		n = v
	}
	posted, err := a.poster.RunBatch(ctx, n)
	if err != nil {
		return replyErr(ctx, req, "Post failed", err)
	}
	if posted == 0 {
		return req.Reply(ctx, "⚠️ No videos ready to post")
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Posted %d video(s)!", posted))
}

func (a *App) cmdQueue(ctx context.Context, req *router.Request) error {
	status := queue.StatusPending
	if len(req.Args) > 0 {
		st, err := queue.ParseStatus(req.Args[0])
		if err != nil {
			return req.Reply(ctx, "❌ "+err.Error())
		}
		status = st
	}
	items, err := a.store.ListByStatus(ctx, status, listLimit)
	if err != nil {
		return replyErr(ctx, req, "Error showing queue", err)
	}
	if len(items) == 0 {
		return req.Reply(ctx, "📭 No "+string(status)+" items")
	}
	var l tgui.Lines
	l.Add(tgui.Raw("📋 "), tgui.B(fmt.Sprintf("Queue: %s", status)), tgui.Esc(fmt.Sprintf(" (first %d)", listLimit))).Blank()
	for i, it := range items {
		l.Add(tgui.Esc(fmt.Sprintf("%d. %s", i+1, it.DisplayTitle())))
		l.Add(tgui.Raw("   ID: "), tgui.Code(it.ID))
		l.Add(tgui.Esc("   Added: " + humanize.Time(it.CreatedAt)))
		if it.RetryCount > 0 {
			l.Add(tgui.Esc(fmt.Sprintf("   Retries: %d", it.RetryCount)))
		}
		if it.ErrorMessage != "" {
			l.Add(tgui.Raw("   Error: "), tgui.I(it.ErrorMessage))
		}
		l.Blank()
	}
	return req.ReplyHTML(ctx, l.String())
}

func (a *App) cmdRecent(ctx context.Context, req *router.Request) error {
	items, err := a.store.RecentPosted(ctx, listLimit)
	if err != nil {
		return replyErr(ctx, req, "Error listing posts", err)
	}
	if len(items) == 0 {
		return req.Reply(ctx, "📭 Nothing posted yet")
	}
	var l tgui.Lines
	l.Add(tgui.Raw("📤 "), tgui.B("Recently posted")).Blank()
	for i, it := range items {
		l.Add(tgui.Esc(fmt.Sprintf("%d. ", i+1)), tgui.Link(it.DisplayTitle(), it.RemoteURL),
			tgui.Esc(" ("+humanize.Time(it.PostedAt)+")"))
	}
	return req.ReplyHTML(ctx, l.String())
}

func (a *App) cmdClearFailed(ctx context.Context, req *router.Request) error {
	n, err := a.store.PurgeFailed(ctx)
	if err != nil {
		return replyErr(ctx, req, "Error clearing failed", err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Cleared %d failed uploads", n))
}

func (a *App) cmdSweep(ctx context.Context, req *router.Request) error {
	n, err := a.worker.SweepStale(ctx)
	if err != nil {
		return replyErr(ctx, req, "Sweep failed", err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Requeued %d stale uploads", n))
}

// cmdEncoding accepts a queue id or a bare hosting file code.
func (a *App) cmdEncoding(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "❌ Usage: /encoding <queue id|file code>")
	}
	code := req.Args[0]
	it, err := a.store.Get(ctx, code)
	switch {
	case err == nil && it.RemoteFileCode == "":
		return req.Reply(ctx, fmt.Sprintf("⚠️ %s is not uploaded yet (%s)", it.ID, it.Status))
	case err == nil:
		code = it.RemoteFileCode
	case !errors.Is(err, queue.ErrNotFound):
		return replyErr(ctx, req, "Error reading queue", err)
	}

	encs, err := a.host.EncodingStatus(ctx, code)
	if err != nil {
		return replyErr(ctx, req, "Encoding status failed", err)
	}
	if len(encs) == 0 {
		return req.Reply(ctx, "✅ "+code+": encoding finished")
	}
	var l tgui.Lines
	l.Add(tgui.Raw("🎞 "), tgui.B("Encoding"), tgui.Raw(" "), tgui.Code(code)).Blank()
	for _, e := range encs {
		l.Add(tgui.Esc(fmt.Sprintf("• %s: %s %d%%", e.Quality, strings.ToLower(e.Status), e.Progress)))
	}
	return req.ReplyHTML(ctx, l.String())
}

// runContext outlives a single command, so a worker started from chat keeps
// running after the request returns.
func (a *App) runContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}
