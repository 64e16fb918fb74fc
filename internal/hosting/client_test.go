package hosting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "lulubot/pkg/logx"
)

type received struct {
	fields   map[string]string
	fileName string
	fileBody string
	snapshot string
	query    map[string]string
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(Config{
		APIBase:      srv.URL + "/api",
		APIKey:       "secret-key",
		UploadServer: srv.URL + "/fallback",
		FolderID:     25,
		CategoryID:   5,
		Public:       1,
		Adult:        1,
		TempDir:      t.TempDir(),
	}, srv.Client(), logx.Nop())
	return c, srv
}

func multipartHandler(t *testing.T, got *received, reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		got.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		got.fileName = hdr.Filename
		got.fileBody = string(b)
		if sf, _, err := r.FormFile("snapshot"); err == nil {
			sb, _ := io.ReadAll(sf)
			_ = sf.Close()
			got.snapshot = string(sb)
		}
		_, _ = io.WriteString(w, reply)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUploadFileUsesDiscoveredServer(t *testing.T) {
	var got received
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.URL.Query().Get("key"))
		fmt.Fprintf(w, `{"msg":"OK","server_time":"x","status":200,"result":"%s/upload/01"}`, srvURL)
	})
	mux.HandleFunc("/upload/01", multipartHandler(t, &got, `{"status":200,"msg":"OK","result":[{"filecode":"abc123","filename":"clip.mp4"}]}`))

	c, srv := newTestClient(t, mux)
	srvURL = srv.URL

	path := writeTemp(t, "clip.mp4", "video-bytes")
	res, err := c.UploadFile(context.Background(), path, Meta{Title: "My clip", Description: "desc"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.FileCode)
	assert.Equal(t, "https://luluvid.com/abc123", res.URL)

	assert.Equal(t, "clip.mp4", got.fileName)
	assert.Equal(t, "video-bytes", got.fileBody)
	assert.Equal(t, map[string]string{
		"key":         "secret-key",
		"fld_id":      "25",
		"cat_id":      "5",
		"file_public": "1",
		"file_adult":  "1",
		"file_title":  "My clip",
		"file_descr":  "desc",
		"tags":        "Promo, High quality",
	}, got.fields)
}

func TestUploadFileSendsSnapshotPart(t *testing.T) {
	var got received
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	mux.HandleFunc("/fallback", multipartHandler(t, &got, `{"status":200,"result":[{"filecode":"s1"}]}`))
	c, _ := newTestClient(t, mux)

	path := writeTemp(t, "clip.mp4", "video-bytes")
	snap := writeTemp(t, "snapshot-1.jpg", "jpeg-bytes")
	_, err := c.UploadFile(context.Background(), path, Meta{SnapshotPath: snap})
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", got.fileBody)
	assert.Equal(t, "jpeg-bytes", got.snapshot)
}

func TestUploadFileFallsBackToConfiguredServer(t *testing.T) {
	var got received
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	mux.HandleFunc("/fallback", multipartHandler(t, &got, `{"status":200,"result":[{"filecode":"fb1"}]}`))
	c, _ := newTestClient(t, mux)

	res, err := c.UploadFile(context.Background(), writeTemp(t, "a.mkv", "x"), Meta{Tags: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "fb1", res.FileCode)
	assert.Equal(t, "custom", got.fields["tags"])
	_, hasTitle := got.fields["file_title"]
	assert.False(t, hasTitle)
}

func TestUploadURLDirectShapes(t *testing.T) {
	for name, reply := range map[string]string{
		"status object": `{"status":200,"result":{"filecode":"u1"}}`,
		"msg ok":        `{"msg":"OK","result":{"filecode":"u1"}}`,
		"string status": `{"status":"200","result":{"filecode":"u1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/upload/url", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "secret-key", r.URL.Query().Get("key"))
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "https://cdn.example.com/v/clip.MP4", r.PostForm.Get("url"))
				assert.Equal(t, "T", r.PostForm.Get("file_title"))
				assert.Equal(t, "25", r.PostForm.Get("fld_id"))
				_, _ = io.WriteString(w, reply)
			})
			c, _ := newTestClient(t, mux)
			res, err := c.UploadURL(context.Background(), "https://cdn.example.com/v/clip.MP4", Meta{Title: "T"})
			require.NoError(t, err)
			assert.Equal(t, "u1", res.FileCode)
		})
	}
}

func TestUploadURLDownloadsNonDirectLinks(t *testing.T) {
	var got received
	mux := http.NewServeMux()
	mux.HandleFunc("/page/watch", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "downloaded-bytes")
	})
	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/fallback", multipartHandler(t, &got, `{"status":200,"result":[{"filecode":"dl1"}]}`))
	mux.HandleFunc("/api/upload/url", func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote upload must not be used for non-direct links")
	})
	c, srv := newTestClient(t, mux)

	res, err := c.UploadURL(context.Background(), srv.URL+"/page/watch", Meta{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "dl1", res.FileCode)
	assert.Equal(t, "downloaded-bytes", got.fileBody)

	left, err := os.ReadDir(c.cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, left, "temp download must be removed")
}

func TestDownloadFailureLeavesNoTempFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	c, srv := newTestClient(t, mux)

	_, err := c.UploadURL(context.Background(), srv.URL+"/gone", Meta{})
	assert.ErrorIs(t, err, ErrRejected)
	left, _ := os.ReadDir(c.cfg.TempDir)
	assert.Empty(t, left)
}

func TestUploadErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"http error", http.StatusInternalServerError, "boom", ErrRejected},
		{"error payload", http.StatusOK, `{"status":403,"msg":"Invalid key"}`, ErrRejected},
		{"not json", http.StatusOK, `<html>`, ErrMalformed},
		{"missing filecode", http.StatusOK, `{"status":200,"result":{}}`, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/upload/url", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			c, _ := newTestClient(t, mux)
			_, err := c.UploadURL(context.Background(), "https://cdn.example.com/a.mp4", Meta{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestErrorExcerptKeepsRunesWhole(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/url", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "x"+strings.Repeat("é", 150))
	})
	c, _ := newTestClient(t, mux)
	_, err := c.UploadURL(context.Background(), "https://cdn.example.com/a.mp4", Meta{})
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Contains(t, err.Error(), "é...")
}

func TestEncodingStatus(t *testing.T) {
	replies := map[string]string{
		"abc":  `{"msg":"OK","status":200,"result":[{"quality":"h","status":"ENCODING","progress":"62"},{"quality":"l","status":"PENDING","progress":0}]}`,
		"one":  `{"msg":"OK","status":200,"result":{"quality":"n","status":"ENCODING","progress":12.5}}`,
		"done": `{"msg":"OK","status":200,"result":[]}`,
		"bad":  `{"msg":"Invalid file code","status":404}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/file/encodings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.URL.Query().Get("key"))
		_, _ = io.WriteString(w, replies[r.URL.Query().Get("file_code")])
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	got, err := c.EncodingStatus(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []Encoding{{Quality: "h", Status: "ENCODING", Progress: 62}, {Quality: "l", Status: "PENDING"}}, got)

	got, err = c.EncodingStatus(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []Encoding{{Quality: "n", Status: "ENCODING", Progress: 12}}, got)

	got, err = c.EncodingStatus(ctx, "done")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.EncodingStatus(ctx, "bad")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestNetworkErrorHidesKey(t *testing.T) {
	mux := http.NewServeMux()
	c, srv := newTestClient(t, mux)
	srv.Close()

	_, err := c.UploadURL(context.Background(), "https://cdn.example.com/a.mp4", Meta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, "network", KindOf(err))
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestFetchMetadata(t *testing.T) {
	for name, reply := range map[string]string{
		"list":   `{"status":200,"result":[{"file_title":"Original","player_img":"https://img/1.jpg"}]}`,
		"object": `{"status":200,"result":{"title":"Original","thumbnail":"https://img/1.jpg"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/file/info", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "abc", r.URL.Query().Get("file_code"))
				_, _ = io.WriteString(w, reply)
			})
			c, _ := newTestClient(t, mux)
			md, err := c.FetchMetadata(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, Metadata{Title: "Original", ThumbnailURL: "https://img/1.jpg"}, md)
		})
	}
}

func TestIsDirectVideoURL(t *testing.T) {
	cases := map[string]bool{
		"https://x.com/a.mp4":          true,
		"https://x.com/a.MKV?sig=1":    true,
		"http://x.com/path/video.webm": true,
		"https://x.com/watch?v=abc":    false,
		"https://x.com/a.mp4/page":     false,
		"ftp://x.com/a.mp4":            false,
		"not a url":                    false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsDirectVideoURL(in), in)
	}
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "my clip.mp4", FileNameFromURL("https://x.com/v/my%20clip.mp4?x=1", "f"))
	assert.Equal(t, "f", FileNameFromURL("https://x.com/", "f"))
}
