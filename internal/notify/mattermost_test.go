package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/web-performance-monitor/internal/notify"
)

// fakeMattermost implements the three API calls the channel uses.
type fakeMattermost struct {
	uploadFailures atomic.Int32 // fail this many uploads with 503
	postStatus     int          // forced status for posts, 0 = created

	mu       sync.Mutex
	uploads  int
	posts    []map[string]any
	authHdrs []string
	fileName string
	fileBody string
}

func (f *fakeMattermost) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","username":"perfbot"}`))
	})
	mux.HandleFunc("/api/v4/files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploads++
		f.authHdrs = append(f.authHdrs, r.Header.Get("Authorization"))
		f.mu.Unlock()

		if f.uploadFailures.Load() > 0 {
			f.uploadFailures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "chan-1", r.FormValue("channel_id"))
		file, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		body, _ := io.ReadAll(file)

		f.mu.Lock()
		f.fileName = hdr.Filename
		f.fileBody = string(body)
		f.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"file_infos":[{"id":"file-9"}]}`))
	})
	mux.HandleFunc("/api/v4/posts", func(w http.ResponseWriter, r *http.Request) {
		if f.postStatus != 0 {
			w.WriteHeader(f.postStatus)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
			return
		}
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		f.mu.Lock()
		f.posts = append(f.posts, payload)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"post-1"}`))
	})
	return mux
}

func newMattermost(t *testing.T, fake *fakeMattermost, retries int) (*notify.Mattermost, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	var waits []time.Duration
	ch := notify.NewMattermost(notify.MattermostConfig{
		Enabled:    true,
		ServerURL:  srv.URL + "/",
		Token:      "secret-token",
		ChannelID:  "chan-1",
		MaxRetries: retries,
	}, notify.WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))
	return ch, &waits
}

func TestMattermost_UploadAndPost(t *testing.T) {
	fake := &fakeMattermost{}
	ch, _ := newMattermost(t, fake, 3)
	ev := slowEvent()

	require.NoError(t, ch.Send(context.Background(), ev, []byte("<html>report</html>")))

	require.Len(t, fake.posts, 1)
	post := fake.posts[0]
	assert.Equal(t, "chan-1", post["channel_id"])
	assert.Equal(t, []any{"file-9"}, post["file_ids"])
	assert.Contains(t, post["message"], "/api/orders/{id}")
	assert.Contains(t, post["message"], "1.500s")
	assert.Equal(t, "<html>report</html>", fake.fileBody)
	assert.Equal(t, notify.ReportName(ev)+".html", fake.fileName)
	assert.Equal(t, []string{"Bearer secret-token"}, fake.authHdrs)
}

// TestMattermost_RetriesWithQuadraticBackoff verifies transient failures are retried.
func TestMattermost_RetriesWithQuadraticBackoff(t *testing.T) {
	fake := &fakeMattermost{}
	fake.uploadFailures.Store(2)
	ch, waits := newMattermost(t, fake, 3)

	require.NoError(t, ch.Send(context.Background(), slowEvent(), []byte("r")))

	assert.Equal(t, 3, fake.uploads)
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second}, *waits)
	assert.Len(t, fake.posts, 1)
}

func TestMattermost_GivesUpAfterMaxRetries(t *testing.T) {
	fake := &fakeMattermost{}
	fake.uploadFailures.Store(100)
	ch, waits := newMattermost(t, fake, 2)

	err := ch.Send(context.Background(), slowEvent(), []byte("r"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, 3, fake.uploads)
	assert.Len(t, *waits, 2)
}

func TestMattermost_ZeroRetries(t *testing.T) {
	fake := &fakeMattermost{}
	fake.uploadFailures.Store(1)
	ch, waits := newMattermost(t, fake, 0)

	assert.Error(t, ch.Send(context.Background(), slowEvent(), []byte("r")))
	assert.Equal(t, 1, fake.uploads)
	assert.Empty(t, *waits)
}

// TestMattermost_PermanentErrorNotRetried verifies rejected posts stop immediately.
func TestMattermost_PermanentErrorNotRetried(t *testing.T) {
	fake := &fakeMattermost{postStatus: http.StatusForbidden}
	ch, waits := newMattermost(t, fake, 3)

	err := ch.Send(context.Background(), slowEvent(), []byte("r"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 1, fake.uploads)
	assert.Empty(t, *waits)
}

func TestMattermost_TestConnection(t *testing.T) {
	fake := &fakeMattermost{}
	ch, _ := newMattermost(t, fake, 0)
	assert.NoError(t, ch.TestConnection(context.Background()))

	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	bad := notify.NewMattermost(notify.MattermostConfig{
		Enabled: true, ServerURL: srv.URL, Token: "wrong", ChannelID: "c",
	})
	err := bad.TestConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestMattermost_IncompleteConfigDisabled(t *testing.T) {
	ch := notify.NewMattermost(notify.MattermostConfig{Enabled: true, ServerURL: "http://mm"})
	assert.False(t, ch.Enabled())
	assert.ErrorIs(t, ch.Send(context.Background(), slowEvent(), nil), notify.ErrChannelDisabled)

	missing := notify.MattermostConfig{ServerURL: "http://mm"}.Missing()
	assert.Equal(t, []string{"token", "channel_id"}, missing)
}

func TestMattermost_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ch := notify.NewMattermost(notify.MattermostConfig{
		Enabled: true, ServerURL: url, Token: "t", ChannelID: "c", MaxRetries: 1,
		Timeout: time.Second,
	}, notify.WithSleep(func(context.Context, time.Duration) error { return nil }))

	assert.Error(t, ch.Send(context.Background(), slowEvent(), []byte("r")))
}
