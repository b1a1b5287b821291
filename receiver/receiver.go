// Package receiver provides the things that do the actual external
// work for a command: one fetch per call, no caching, no memory of
// previous calls.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Comcast/metronome/util"

	"go.uber.org/zap"
)

// DefaultURL is the random fact endpoint.
const DefaultURL = "https://uselessfacts.jsph.pl/api/v2/facts/random"

// MaxBody caps how much of a response body we'll read.
var MaxBody int64 = 1 << 20

// BodyTooLarge occurs when a response body exceeds MaxBody.
var BodyTooLarge = errors.New("response body too large")

// Receiver performs a single unit of external work.
//
// Fetch must return exactly once per call.  Each call is independent
// of every other call.
type Receiver interface {
	Fetch(ctx context.Context) (string, error)
}

// Func adapts a function to a Receiver.
type Func func(ctx context.Context) (string, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

// Stage names the point in a fetch where things went wrong.
type Stage string

const (
	StageRequest Stage = "request"
	StageStatus  Stage = "status"
	StageRead    Stage = "read"
	StageDecode  Stage = "decode"
	StageExtract Stage = "extract"
)

// FetchError is the only kind of error a FactReceiver returns.
type FetchError struct {
	URL        string
	Stage      Stage
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TestResponse, if given to a FactReceiver, is used instead of
// making a real HTTP request.
type TestResponse struct {
	StatusCode int
	Body       string

	// Err, if not nil, is returned as a request failure.
	Err error
}

// FactReceiver GETs a JSON payload and extracts a line of text from
// it.
//
// By default the text is the payload's "text" property.  See
// WithExtract for something fancier.
type FactReceiver struct {
	URL    string
	Header http.Header
	Debug  bool

	// TestResponse, if there, will be returned instead of
	// attempting a real HTTP request.
	TestResponse *TestResponse

	client  *http.Client
	extract *extractor
	log     *zap.SugaredLogger
}

// Option configures a FactReceiver.
type Option func(*FactReceiver) error

// WithClient sets the HTTP client.  The default is NewClient().
func WithClient(c *http.Client) Option {
	return func(r *FactReceiver) error {
		r.client = c
		return nil
	}
}

// WithHeader adds a request header.
func WithHeader(name, value string) Option {
	return func(r *FactReceiver) error {
		r.Header.Add(name, value)
		return nil
	}
}

// WithExtract compiles an ECMAScript expression that computes the
// text from the decoded payload, which is bound to "payload".
func WithExtract(src string) Option {
	return func(r *FactReceiver) error {
		x, err := compileExtract(src)
		if err != nil {
			return err
		}
		r.extract = x
		return nil
	}
}

// WithDebug turns on request/response logging.
func WithDebug(debug bool) Option {
	return func(r *FactReceiver) error {
		r.Debug = debug
		return nil
	}
}

// WithLogger sets the logger.  The default is util.Logger().
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *FactReceiver) error {
		r.log = l
		return nil
	}
}

// WithTestResponse makes the receiver skip the network.
func WithTestResponse(tr *TestResponse) Option {
	return func(r *FactReceiver) error {
		r.TestResponse = tr
		return nil
	}
}

// NewFactReceiver makes a FactReceiver for the given URL.  An empty
// URL means DefaultURL.
func NewFactReceiver(u string, opts ...Option) (*FactReceiver, error) {
	if u == "" {
		u = DefaultURL
	}
	if _, err := url.Parse(u); err != nil {
		return nil, fmt.Errorf("bad receiver url %q: %w", u, err)
	}
	r := &FactReceiver{
		URL:    u,
		Header: make(http.Header),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.client == nil {
		r.client = NewClient()
	}
	if r.log == nil {
		r.log = util.Logger()
	}
	return r, nil
}

func (r *FactReceiver) logf(format string, args ...interface{}) {
	if r.Debug {
		r.log.Infof(format, args...)
	}
}

func (r *FactReceiver) fail(stage Stage, status int, err error) error {
	r.logf("FactReceiver.Fetch %s %s error %v", r.URL, stage, err)
	return &FetchError{
		URL:        r.URL,
		Stage:      stage,
		StatusCode: status,
		Err:        err,
	}
}

// Fetch makes one request and returns the extracted text.
func (r *FactReceiver) Fetch(ctx context.Context) (string, error) {
	status, body, err := r.do(ctx)
	if err != nil {
		return "", err
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", r.fail(StageDecode, status, err)
	}

	text, err := r.extract.text(ctx, payload)
	if err != nil {
		return "", r.fail(StageExtract, status, err)
	}

	r.logf("FactReceiver.Fetch %s got %q", r.URL, text)

	return text, nil
}

// do performs the request and returns the status and body.
func (r *FactReceiver) do(ctx context.Context) (int, []byte, error) {
	if tr := r.TestResponse; tr != nil {
		if tr.Err != nil {
			return 0, nil, r.fail(StageRequest, 0, tr.Err)
		}
		status := tr.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if !ok(status) {
			return status, nil, r.fail(StageStatus, status, fmt.Errorf("%s", http.StatusText(status)))
		}
		return status, []byte(tr.Body), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return 0, nil, r.fail(StageRequest, 0, err)
	}
	for name, vals := range r.Header {
		for _, val := range vals {
			req.Header.Add(name, val)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	r.logf("FactReceiver.Fetch GET %s", r.URL)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, r.fail(StageRequest, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBody+1))
	if err != nil {
		return resp.StatusCode, nil, r.fail(StageRead, resp.StatusCode, err)
	}

	if !ok(resp.StatusCode) {
		return resp.StatusCode, nil, r.fail(StageStatus, resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, snippet(body)))
	}

	if MaxBody < int64(len(body)) {
		err = fmt.Errorf("%w (limit %d bytes)", BodyTooLarge, MaxBody)
		return resp.StatusCode, nil, r.fail(StageRead, resp.StatusCode, err)
	}

	return resp.StatusCode, body, nil
}

func ok(status int) bool {
	return 200 <= status && status < 300
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if 80 < len(s) {
		s = s[:80] + "..."
	}
	return s
}
