package hosting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	logx "lulubot/pkg/logx"
)

const maxResponseBody = 1 << 20

type Config struct {
	APIBase      string
	APIKey       string
	UploadServer string // used when server discovery fails
	WatchBase    string

	FolderID   int
	CategoryID int
	Tags       string
	Public     int
	Adult      int

	UploadTimeout    time.Duration
	RequestTimeout   time.Duration
	URLUploadTimeout time.Duration
	DownloadTimeout  time.Duration

	// TempDir holds downloads of non-direct URLs; "" means os.TempDir().
	TempDir string
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = "https://lulustream.com/api"
	}
	if c.UploadServer == "" {
		c.UploadServer = "https://s1.myvideo.com/upload/01"
	}
	if c.WatchBase == "" {
		c.WatchBase = "https://luluvid.com"
	}
	if c.Tags == "" {
		c.Tags = "Promo, High quality"
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 2 * time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.URLUploadTimeout <= 0 {
		c.URLUploadTimeout = 60 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Minute
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	c.WatchBase = strings.TrimRight(c.WatchBase, "/")
	return c
}

// Result is a successful upload.
type Result struct {
	FileCode string
	URL      string
}

// Meta describes the uploaded video.
type Meta struct {
	Title       string
	Description string
	Tags        string // "" means Config.Tags
	// SnapshotPath is an optional preview image sent as the snapshot part.
	SnapshotPath string
}

// Encoding is one entry of a file's transcoding queue.
type Encoding struct {
	Quality  string
	Status   string
	Progress int // percent
}

// Metadata is the enrichment fetched back after an upload. Fields may be empty.
type Metadata struct {
	Title        string
	ThumbnailURL string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

// New builds a client. httpClient may be nil; per-call deadlines come from
// the context, so the http.Client itself carries no timeout.
func New(cfg Config, httpClient *http.Client, log logx.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg.withDefaults(), http: httpClient, log: log}
}

func (c *Client) WatchURL(fileCode string) string {
	return c.cfg.WatchBase + "/" + fileCode
}

// UploadServer asks the API for an upload endpoint and falls back to the
// configured one on any failure.
func (c *Client) UploadServer(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	u := c.cfg.APIBase + "/upload/server?" + url.Values{"key": {c.cfg.APIKey}}.Encode()
	status, body, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err == nil && status == http.StatusOK {
		if server, ok := parseUploadServer(body); ok {
			return server
		}
	}
	c.log.Debug("upload server discovery failed; using fallback",
		logx.Int("status", status), logx.Err(err), logx.String("fallback", c.cfg.UploadServer))
	return c.cfg.UploadServer
}

// UploadFile streams the file at path to the host. The file is closed on
// every return path; removing it is the caller's job.
func (c *Client) UploadFile(ctx context.Context, path string, meta Meta) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()
	return c.UploadReader(ctx, f, filepath.Base(path), meta)
}

// UploadReader streams r as a multipart upload without buffering it in memory.
func (c *Client) UploadReader(ctx context.Context, r io.Reader, name string, meta Meta) (Result, error) {
	const op = "upload file"
	server := c.UploadServer(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(c.writeUploadForm(mw, r, name, meta))
	}()

	started := time.Now()
	status, body, err := c.do(ctx, http.MethodPost, server, mw.FormDataContentType(), pr)
	// The request may end before the form is fully written; stop the writer
	// and wait so r is no longer read after return.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	<-written
	if err != nil {
		return Result{}, err
	}
	if status < 200 || status > 299 {
		return Result{}, rejectedErr(op, status, string(body))
	}
	code, err := parseUpload(op, status, body)
	if err != nil {
		return Result{}, err
	}
	c.log.Info("file uploaded", logx.String("file_code", code), logx.String("name", name),
		logx.Duration("took", time.Since(started)))
	return Result{FileCode: code, URL: c.WatchURL(code)}, nil
}

func (c *Client) writeUploadForm(mw *multipart.Writer, r io.Reader, name string, meta Meta) error {
	for _, kv := range c.formFields(meta) {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if err := copyPart(mw, "file", name, contentType(name, "video/mp4"), r); err != nil {
		return err
	}
	if meta.SnapshotPath != "" {
		if sf, err := os.Open(meta.SnapshotPath); err == nil {
			err = copyPart(mw, "snapshot", filepath.Base(meta.SnapshotPath), contentType(meta.SnapshotPath, "image/jpeg"), sf)
			_ = sf.Close()
			if err != nil {
				return err
			}
		}
	}
	return mw.Close()
}

func copyPart(mw *multipart.Writer, field, name, ctype string, r io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}

func contentType(name, def string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return def
}

// formFields returns the shared upload fields in wire order.
func (c *Client) formFields(meta Meta) [][2]string {
	tags := strings.TrimSpace(meta.Tags)
	if tags == "" {
		tags = c.cfg.Tags
	}
	fields := [][2]string{
		{"key", c.cfg.APIKey},
		{"fld_id", strconv.Itoa(c.cfg.FolderID)},
		{"cat_id", strconv.Itoa(c.cfg.CategoryID)},
		{"file_public", strconv.Itoa(c.cfg.Public)},
		{"file_adult", strconv.Itoa(c.cfg.Adult)},
	}
	if t := strings.TrimSpace(meta.Title); t != "" {
		fields = append(fields, [2]string{"file_title", t})
	}
	if d := strings.TrimSpace(meta.Description); d != "" {
		fields = append(fields, [2]string{"file_descr", d})
	}
	return append(fields, [2]string{"tags", tags})
}

// UploadURL uploads a remote video. Direct video links go to the host's
// remote-fetch endpoint; anything else is downloaded here first and sent as
// a file, since the host rejects most non-direct links.
func (c *Client) UploadURL(ctx context.Context, rawURL string, meta Meta) (Result, error) {
	if IsDirectVideoURL(rawURL) {
		return c.uploadRemote(ctx, rawURL, meta)
	}
	c.log.Debug("url is not a direct video link; downloading first", logx.String("url", rawURL))
	dl, err := c.Download(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	defer dl.Remove()
	return c.UploadFile(ctx, dl.Path, meta)
}

func (c *Client) uploadRemote(ctx context.Context, rawURL string, meta Meta) (Result, error) {
	const op = "upload url"
	ctx, cancel := context.WithTimeout(ctx, c.cfg.URLUploadTimeout)
	defer cancel()

	form := url.Values{"url": {rawURL}}
	for _, kv := range c.formFields(meta) {
		form.Set(kv[0], kv[1])
	}
	endpoint := c.cfg.APIBase + "/upload/url?" + url.Values{"key": {c.cfg.APIKey}}.Encode()
	status, body, err := c.do(ctx, http.MethodPost, endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	if status < 200 || status > 299 {
		return Result{}, rejectedErr(op, status, string(body))
	}
	code, err := parseUpload(op, status, body)
	if err != nil {
		return Result{}, err
	}
	c.log.Info("url uploaded", logx.String("file_code", code), logx.String("url", rawURL))
	return Result{FileCode: code, URL: c.WatchURL(code)}, nil
}

// FetchMetadata looks up title and thumbnail of an uploaded file.
// Callers treat any error as "no enrichment".
func (c *Client) FetchMetadata(ctx context.Context, fileCode string) (Metadata, error) {
	const op = "file info"
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	q := url.Values{"key": {c.cfg.APIKey}, "file_code": {fileCode}}
	status, body, err := c.do(ctx, http.MethodGet, c.cfg.APIBase+"/file/info?"+q.Encode(), "", nil)
	if err != nil {
		return Metadata{}, err
	}
	if status != http.StatusOK {
		return Metadata{}, rejectedErr(op, status, string(body))
	}
	return parseMetadata(op, status, body)
}

// EncodingStatus lists the pending transcodes of an uploaded file. An empty
// list means the file is fully encoded.
func (c *Client) EncodingStatus(ctx context.Context, fileCode string) ([]Encoding, error) {
	const op = "file encodings"
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	q := url.Values{"key": {c.cfg.APIKey}, "file_code": {fileCode}}
	status, body, err := c.do(ctx, http.MethodGet, c.cfg.APIBase+"/file/encodings?"+q.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, rejectedErr(op, status, string(body))
	}
	return parseEncodings(op, status, body)
}

// do performs one request and reads at most maxResponseBody bytes of the reply.
// Transport failures come back as network errors.
func (c *Client) do(ctx context.Context, method, u, ctype string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, networkErr(method+" "+redact(u), stripURLError(err))
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, networkErr("read response", err)
	}
	return resp.StatusCode, b, nil
}

// stripURLError drops the request URL (which carries the API key) from err.
func stripURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
