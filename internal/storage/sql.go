package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"

	"lulubot/internal/queue"
	logx "lulubot/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

const itemsTable = "queue_items"

var itemColumns = []string{
	"id", "file_id", "file_url", "file_name", "file_size", "title", "description",
	"thumbnail_file_id", "source_chat_id", "source_message_id", "status",
	"remote_file_code", "remote_url", "remote_title", "remote_thumbnail",
	"retry_count", "error_message", "created_at", "claimed_at", "uploaded_at", "posted_at",
}

// sqlStore serves both sqlite and postgres; only the placeholder format differs.
// Times are stored as unix milliseconds.
type sqlStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	log logx.Logger
	now func() time.Time
}

func newSQLStore(db *sql.DB, sb sq.StatementBuilderType, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, sb: sb, log: log, now: time.Now}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return &queue.PersistenceError{Op: "migrate", Err: err}
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &queue.PersistenceError{Op: "migrate", Err: err}
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) exec(ctx context.Context, op string, q sq.Sqlizer) (int64, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, &queue.PersistenceError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &queue.PersistenceError{Op: op, Err: err}
	}
	return n, nil
}

func (s *sqlStore) Enqueue(ctx context.Context, item queue.NewItem) (string, error) {
	item = item.Normalize()
	if err := item.Validate(); err != nil {
		return "", err
	}
	id := ulid.Make().String()
	q := s.sb.Insert(itemsTable).
		Columns("id", "file_id", "file_url", "file_name", "file_size", "title", "description",
			"thumbnail_file_id", "source_chat_id", "source_message_id", "status", "retry_count", "created_at").
		Values(id, item.FileID, item.FileURL, item.FileName, item.FileSize, item.Title, item.Description,
			item.ThumbnailFileID, item.SourceChatID, item.SourceMessageID, string(queue.StatusPending), 0, s.now().UnixMilli())
	if _, err := s.exec(ctx, "enqueue", q); err != nil {
		return "", err
	}
	return id, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (*queue.Item, error) {
	items, err := s.query(ctx, "get", s.sb.Select(itemColumns...).From(itemsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, queue.ErrNotFound
	}
	return &items[0], nil
}

func (s *sqlStore) ClaimNextPending(ctx context.Context) (*queue.Item, error) {
	q := s.sb.Select(itemColumns...).From(itemsTable).
		Where(sq.Eq{"status": string(queue.StatusPending)}).
		OrderBy("created_at ASC", "id ASC").
		Limit(1)
	items, err := s.query(ctx, "claim next pending", q)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func (s *sqlStore) Claim(ctx context.Context, id string) (bool, error) {
	q := s.sb.Update(itemsTable).
		Set("status", string(queue.StatusUploading)).
		Set("claimed_at", s.now().UnixMilli()).
		Where(sq.Eq{"id": id, "status": string(queue.StatusPending)})
	n, err := s.exec(ctx, "claim", q)
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.log.Debug("claim lost", logx.String("id", id))
		return false, nil
	}
	return true, nil
}

func (s *sqlStore) Transition(ctx context.Context, id string, to queue.Status, upd queue.Update) (bool, error) {
	if !to.Valid() {
		return false, &queue.InvalidTransitionError{ID: id, To: to}
	}
	now := s.now().UnixMilli()

	q := s.sb.Update(itemsTable).
		Set("status", string(to)).
		Where(sq.Eq{"id": id, "status": statusStrings(queue.Predecessors(to))})
	switch to {
	case queue.StatusUploading:
		q = q.Set("claimed_at", now)
	case queue.StatusPending:
		q = q.Set("claimed_at", nil)
	case queue.StatusUploaded:
		q = q.Set("uploaded_at", sq.Expr("COALESCE(uploaded_at, ?)", now))
	case queue.StatusPosted:
		q = q.Set("posted_at", sq.Expr("COALESCE(posted_at, ?)", now))
	}
	for _, cv := range updateColumns(upd) {
		q = q.Set(cv.col, cv.val)
	}

	n, err := s.exec(ctx, "transition", q)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Nothing matched: tell "missing" from "same status" from "illegal edge".
	cur, err := s.Get(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.Status == to {
		return true, nil
	}
	return false, &queue.InvalidTransitionError{ID: id, From: cur.Status, To: to}
}

func (s *sqlStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	q := s.sb.Update(itemsTable).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING retry_count")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment retry: %w", err)
	}
	var n int
	err = s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, queue.ErrNotFound
	}
	if err != nil {
		return 0, &queue.PersistenceError{Op: "increment retry", Err: err}
	}
	return n, nil
}

func (s *sqlStore) Touch(ctx context.Context, id string) error {
	q := s.sb.Update(itemsTable).
		Set("claimed_at", s.now().UnixMilli()).
		Where(sq.Eq{"id": id, "status": string(queue.StatusUploading)})
	_, err := s.exec(ctx, "touch", q)
	return err
}

func (s *sqlStore) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	q := s.sb.Update(itemsTable).
		Set("status", string(queue.StatusPending)).
		Set("claimed_at", nil).
		Set("error_message", staleClaimMessage).
		Where(sq.Eq{"status": string(queue.StatusUploading)}).
		Where(sq.Or{sq.Lt{"claimed_at": cutoff.UnixMilli()}, sq.Eq{"claimed_at": nil}})
	n, err := s.exec(ctx, "requeue stale", q)
	return int(n), err
}

func (s *sqlStore) ListUploadedNotPosted(ctx context.Context, limit int) ([]queue.Item, error) {
	q := s.sb.Select(itemColumns...).From(itemsTable).
		Where(sq.Eq{"status": string(queue.StatusUploaded)}).
		OrderBy("uploaded_at ASC", "id ASC").
		Limit(uint64(clampLimit(limit)))
	return s.query(ctx, "list uploaded", q)
}

func (s *sqlStore) ListByStatus(ctx context.Context, status queue.Status, limit int) ([]queue.Item, error) {
	q := s.sb.Select(itemColumns...).From(itemsTable).
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(clampLimit(limit)))
	return s.query(ctx, "list by status", q)
}

func (s *sqlStore) RecentPosted(ctx context.Context, limit int) ([]queue.Item, error) {
	q := s.sb.Select(itemColumns...).From(itemsTable).
		Where(sq.Eq{"status": string(queue.StatusPosted)}).
		OrderBy("posted_at DESC", "id DESC").
		Limit(uint64(clampLimit(limit)))
	return s.query(ctx, "recent posted", q)
}

func (s *sqlStore) Stats(ctx context.Context) (queue.Stats, error) {
	sqlStr, args, err := s.sb.Select("status", "COUNT(*)").From(itemsTable).GroupBy("status").ToSql()
	if err != nil {
		return queue.Stats{}, fmt.Errorf("build stats: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return queue.Stats{}, &queue.PersistenceError{Op: "stats", Err: err}
	}
	defer rows.Close()

	st := queue.Stats{ByStatus: make(map[queue.Status]int, len(queue.AllStatuses))}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return queue.Stats{}, &queue.PersistenceError{Op: "stats", Err: err}
		}
		st.ByStatus[queue.Status(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return queue.Stats{}, &queue.PersistenceError{Op: "stats", Err: err}
	}
	return st, nil
}

func (s *sqlStore) PurgeFailed(ctx context.Context) (int, error) {
	n, err := s.exec(ctx, "purge failed", s.sb.Delete(itemsTable).Where(sq.Eq{"status": string(queue.StatusFailed)}))
	return int(n), err
}

func (s *sqlStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.exec(ctx, "delete", s.sb.Delete(itemsTable).Where(sq.Eq{"id": id}))
	return n > 0, err
}

func (s *sqlStore) query(ctx context.Context, op string, q sq.SelectBuilder) ([]queue.Item, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, &queue.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []queue.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, &queue.PersistenceError{Op: op, Err: err}
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, &queue.PersistenceError{Op: op, Err: err}
	}
	return out, nil
}

func scanItem(rows *sql.Rows) (queue.Item, error) {
	var (
		it                        queue.Item
		status                    string
		msgID                     int64
		created                   int64
		claimed, uploaded, posted sql.NullInt64
	)
	err := rows.Scan(
		&it.ID, &it.FileID, &it.FileURL, &it.FileName, &it.FileSize, &it.Title, &it.Description,
		&it.ThumbnailFileID, &it.SourceChatID, &msgID, &status,
		&it.RemoteFileCode, &it.RemoteURL, &it.RemoteTitle, &it.RemoteThumbnail,
		&it.RetryCount, &it.ErrorMessage, &created, &claimed, &uploaded, &posted,
	)
	if err != nil {
		return queue.Item{}, err
	}
	it.Status = queue.Status(status)
	it.SourceMessageID = int(msgID)
	it.CreatedAt = time.UnixMilli(created)
	it.ClaimedAt = fromMillis(claimed)
	it.UploadedAt = fromMillis(uploaded)
	it.PostedAt = fromMillis(posted)
	return it, nil
}

var _ queue.Store = (*sqlStore)(nil)
