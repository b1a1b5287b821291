package receiver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bees = "Bees can recognize human faces."

func factServer(t *testing.T, status int, body string) (*httptest.Server, *int64) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(status)
		fmt.Fprintf(w, body, n)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestFactReceiverFetch(t *testing.T) {
	ts, hits := factServer(t, http.StatusOK, `{"id":"%d","text":"`+bees+`"}`)

	r, err := NewFactReceiver(ts.URL)
	require.NoError(t, err)

	text, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bees, text)
	assert.EqualValues(t, 1, atomic.LoadInt64(hits))
}

func TestFactReceiverNoCaching(t *testing.T) {
	ts, hits := factServer(t, http.StatusOK, `{"text":"fact %d"}`)

	r, err := NewFactReceiver(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := r.Fetch(ctx)
	require.NoError(t, err)
	second, err := r.Fetch(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt64(hits))
	assert.Equal(t, "fact 1", first)
	assert.Equal(t, "fact 2", second)
}

func TestFactReceiverFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		stage  Stage
	}{
		{"status", http.StatusNotFound, `{"n":%d}`, StageStatus},
		{"server error", http.StatusInternalServerError, `{"n":%d}`, StageStatus},
		{"malformed", http.StatusOK, `{"text":%d`, StageDecode},
		{"missing text", http.StatusOK, `{"n":%d}`, StageExtract},
		{"non-string text", http.StatusOK, `{"text":%d}`, StageExtract},
		{"empty text", http.StatusOK, `{"text":"","n":%d}`, StageExtract},
		{"not an object", http.StatusOK, `[%d]`, StageExtract},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := factServer(t, tt.status, tt.body)
			r, err := NewFactReceiver(ts.URL)
			require.NoError(t, err)

			text, err := r.Fetch(context.Background())
			require.Error(t, err)
			assert.Empty(t, text)

			var fe *FetchError
			require.True(t, errors.As(err, &fe), "%T isn't a FetchError", err)
			assert.Equal(t, tt.stage, fe.Stage)
			assert.Equal(t, ts.URL, fe.URL)
			assert.NotNil(t, fe.Unwrap())
			if tt.stage == StageExtract {
				assert.True(t, errors.Is(err, NoText))
			}
		})
	}
}

func TestFactReceiverNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	u := ts.URL
	ts.Close()

	r, err := NewFactReceiver(u, WithClient(NewClient(WithTimeout(time.Second))))
	require.NoError(t, err)

	_, err = r.Fetch(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, StageRequest, fe.Stage)
}

func TestFactReceiverBodyTooLarge(t *testing.T) {
	defer func(n int64) { MaxBody = n }(MaxBody)
	MaxBody = 16

	ts, _ := factServer(t, http.StatusOK, `{"id":"%d","text":"`+bees+`"}`)
	r, err := NewFactReceiver(ts.URL)
	require.NoError(t, err)

	_, err = r.Fetch(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageRead, fe.Stage)
	assert.True(t, errors.Is(err, BodyTooLarge))

	// Exactly MaxBody is fine.
	body := `{"text":"` + bees + `"}`
	MaxBody = int64(len(body))
	exact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer exact.Close()
	r, err = NewFactReceiver(exact.URL)
	require.NoError(t, err)
	text, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bees, text)
}

func TestFactReceiverContextCancel(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	r, err := NewFactReceiver(ts.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = r.Fetch(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestFactReceiverHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tacos", r.Header.Get("X-Likes"))
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer ts.Close()

	r, err := NewFactReceiver(ts.URL, WithHeader("X-Likes", "tacos"))
	require.NoError(t, err)

	text, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestFactReceiverRetries(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"text":"second time lucky"}`)
	}))
	defer ts.Close()

	c := NewClient(WithRetries(1), WithRetryWait(time.Millisecond, 5*time.Millisecond))
	r, err := NewFactReceiver(ts.URL, WithClient(c))
	require.NoError(t, err)

	text, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.EqualValues(t, 2, atomic.LoadInt64(&hits))
}

func TestFactReceiverCookies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			fmt.Fprintf(w, `{"text":"welcome back %s"}`, c.Value)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "queso"})
		fmt.Fprint(w, `{"text":"hello"}`)
	}))
	defer ts.Close()

	r, err := NewFactReceiver(ts.URL, WithClient(NewClient(WithCookies())))
	require.NoError(t, err)

	ctx := context.Background()
	text, err := r.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	text, err = r.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "welcome back queso", text)
}

func TestFactReceiverTestResponse(t *testing.T) {
	r, err := NewFactReceiver("", WithTestResponse(&TestResponse{
		Body: `{"text":"` + bees + `"}`,
	}))
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, r.URL)

	text, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bees, text)

	r.TestResponse = &TestResponse{Err: errors.New("unplugged")}
	_, err = r.Fetch(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, StageRequest, fe.Stage)
	assert.Contains(t, err.Error(), "unplugged")

	r.TestResponse = &TestResponse{StatusCode: http.StatusTeapot}
	_, err = r.Fetch(context.Background())
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, StageStatus, fe.Stage)
	assert.Equal(t, http.StatusTeapot, fe.StatusCode)
}

func TestFuncReceiver(t *testing.T) {
	var r Receiver = Func(func(ctx context.Context) (string, error) {
		return bees, nil
	})
	text, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bees, text)
}
