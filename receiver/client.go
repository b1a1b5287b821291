package receiver

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/Comcast/metronome/util"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// LeveledZap adapts a zap logger to retryablehttp.LeveledLogger.
type LeveledZap struct {
	inner *zap.SugaredLogger
}

// Error is logged as a warning since the client will (maybe) retry.
func (l LeveledZap) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l LeveledZap) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l LeveledZap) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l LeveledZap) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

type clientConf struct {
	retry   *retryablehttp.Client
	timeout time.Duration
	cookies bool
}

// ClientOption configures NewClient.
type ClientOption func(*clientConf)

// WithRetries sets the maximum number of retries.  The default is
// zero: one request per fetch.
func WithRetries(n int) ClientOption {
	return func(c *clientConf) {
		c.retry.RetryMax = n
	}
}

// WithRetryWait sets the minimum and maximum wait between retries.
func WithRetryWait(min, max time.Duration) ClientOption {
	return func(c *clientConf) {
		c.retry.RetryWaitMin = min
		c.retry.RetryWaitMax = max
	}
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConf) {
		c.timeout = d
	}
}

// WithCookies gives the client a cookie jar.
func WithCookies() ClientOption {
	return func(c *clientConf) {
		c.cookies = true
	}
}

// WithTransport sets a custom transport.
func WithTransport(t http.RoundTripper) ClientOption {
	return func(c *clientConf) {
		c.retry.HTTPClient.Transport = t
	}
}

// WithClientLogger sets the logger that sees retries.
func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *clientConf) {
		c.retry.Logger = retryablehttp.LeveledLogger(LeveledZap{l})
	}
}

// NewClient generates an HTTP client with a pooled transport, a 30s
// timeout, and no retries unless asked.
//
// The returned client has the stdlib http.Client interface, but has
// Hashicorp retryablehttp logic internally.
func NewClient(opts ...ClientOption) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	rc.RetryMax = 0
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	// We want to see the last response's status rather than
	// retryablehttp's "giving up" error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryablehttp.LeveledLogger(LeveledZap{util.Logger().With("subsystem", "receiver-http")})

	conf := &clientConf{
		retry:   rc,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(conf)
	}

	client := rc.StandardClient()
	client.Timeout = conf.timeout

	if conf.cookies {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			// cookiejar.New never returns an error.
			panic(err)
		}
		client.Jar = jar
	}

	return client
}
