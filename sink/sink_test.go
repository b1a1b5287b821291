package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/Comcast/metronome/util/testutil"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	at   = time.Date(2019, 4, 1, 12, 0, 0, 0, time.UTC)
	fact = &Report{Command: "facts", Tick: 3, At: at, Text: "Bees can recognize human faces."}
	oops = &Report{Command: "facts", Tick: 4, At: at, Error: "fetch failed"}
)

func TestStdioLines(t *testing.T) {
	var out, errs Buffer
	s := &Stdio{Out: &out, Err: &errs}

	ctx := context.Background()
	require.NoError(t, s.Emit(ctx, fact))
	require.NoError(t, s.Emit(ctx, oops))

	assert.Equal(t, []string{"Bees can recognize human faces."}, out.Lines())
	assert.Equal(t, []string{"fetch failed"}, errs.Lines())
}

func TestStdioFoldsLineBreaks(t *testing.T) {
	var out, errs Buffer
	s := &Stdio{Out: &out, Err: &errs, Tags: true}

	ctx := context.Background()
	multi := &Report{Command: "facts", Tick: 5, At: at, Text: "line one\nline two\r\nline three\rfour"}
	require.NoError(t, s.Emit(ctx, multi))
	require.NoError(t, s.Emit(ctx, &Report{Error: "status 500:\nbad gateway"}))

	assert.Equal(t, []string{"fact line one line two line three four"}, out.Lines())
	assert.Equal(t, []string{"error status 500: bad gateway"}, errs.Lines())

	// The report itself keeps its text.
	assert.Equal(t, "line one\nline two\r\nline three\rfour", multi.Text)

	var js Buffer
	s.Out = &js
	s.JSON = true
	require.NoError(t, s.Emit(ctx, multi))
	require.Len(t, js.Lines(), 1)
	assert.Equal(t, Dwimjs(JS(multi)), Dwimjs(strings.TrimPrefix(js.Lines()[0], "fact ")))
}

func TestStdioDecorations(t *testing.T) {
	var out Buffer
	s := &Stdio{Out: &out, Tags: true, PadTags: true, Timestamps: true}

	require.NoError(t, s.Emit(context.Background(), fact))

	line := out.Lines()[0]
	assert.True(t, strings.HasPrefix(line, "2019-04-01T12:00:00Z"), line)
	assert.Contains(t, line, "  fact Bees can recognize human faces.")
}

func TestStdioJSON(t *testing.T) {
	var out Buffer
	s := &Stdio{Out: &out, JSON: true}

	require.NoError(t, s.Emit(context.Background(), fact))

	var r Report
	require.NoError(t, json.Unmarshal([]byte(out.Lines()[0]), &r))
	assert.Equal(t, *fact, r)
}

func TestStdioConcurrentLinesDontInterleave(t *testing.T) {
	var out Buffer
	s := &Stdio{Out: &out}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Emit(context.Background(), fact)
		}()
	}
	wg.Wait()

	lines := out.Lines()
	require.Len(t, lines, 50)
	for _, line := range lines {
		assert.Equal(t, fact.Text, line)
	}
}

func TestMulti(t *testing.T) {
	var (
		got  []string
		mu   sync.Mutex
		boom = errors.New("boom")
		rec  = Func(func(ctx context.Context, r *Report) error {
			mu.Lock()
			got = append(got, r.Text)
			mu.Unlock()
			return nil
		})
		bad = Func(func(ctx context.Context, r *Report) error {
			return boom
		})
	)

	m := Multi{bad, rec, bad}
	err := m.Emit(context.Background(), fact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{fact.Text}, got)

	assert.NoError(t, Multi{rec}.Emit(context.Background(), fact))
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	return t.err
}

type fakePublisher struct {
	sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
	stall    bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.Lock()
	defer p.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	t := &fakeToken{done: make(chan struct{}), err: p.err}
	if !p.stall {
		close(t.done)
	}
	return t
}

func TestMQTTPublishes(t *testing.T) {
	p := &fakePublisher{}
	m := NewMQTT(p, "facts/"+CommandPlaceholder, 1)

	require.NoError(t, m.Emit(context.Background(), fact))

	require.Equal(t, []string{"facts/facts"}, p.topics)
	var r Report
	require.NoError(t, json.Unmarshal(p.payloads[0], &r))
	assert.Equal(t, fact.Text, r.Text)
}

func TestMQTTErrors(t *testing.T) {
	boom := errors.New("broker says no")
	p := &fakePublisher{err: boom}
	m := NewMQTT(p, "facts", 0)

	err := m.Emit(context.Background(), fact)
	assert.True(t, errors.Is(err, boom))

	p = &fakePublisher{stall: true}
	m = NewMQTT(p, "facts", 0)
	m.Timeout = 10 * time.Millisecond
	err = m.Emit(context.Background(), fact)
	assert.True(t, errors.Is(err, PublishTimeout))

	m.Timeout = 0
	assert.NoError(t, m.Emit(context.Background(), fact))
}

func TestMQTTConfigClientOptions(t *testing.T) {
	c := DefaultMQTTConfig()
	c.ClientId = "metronome-test"
	opts, err := c.ClientOptions()
	require.NoError(t, err)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Equal(t, "metronome-test", opts.ClientID)

	c.CAFile = "/does/not/exist.pem"
	_, err = c.ClientOptions()
	assert.Error(t, err)
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	ts := httptest.NewServer(h)
	defer ts.Close()
	defer h.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}

	a, b := dial(), dial()
	defer a.Close()
	defer b.Close()

	require.Eventually(t, func() bool { return h.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Emit(context.Background(), fact))

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var r Report
		require.NoError(t, conn.ReadJSON(&r))
		assert.Equal(t, fact.Text, r.Text)
		assert.EqualValues(t, 3, r.Tick)
	}

	a.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
}
