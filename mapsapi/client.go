package mapsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
)

var (
	ErrQuotaExceeded = errors.New("maps api quota exceeded")
	ErrRequestDenied = errors.New("maps api request denied")
	ErrBreakerOpen   = errors.New("maps api circuit open")
)

const DefaultBaseURL = "https://maps.googleapis.com/maps/api"

// Client talks to a Google-compatible geocoding and directions API.
type Client struct {
	key     string
	baseURL string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.HTTPClient.Timeout = d }
}

func WithRetryMax(n int) Option {
	return func(c *Client) { c.http.RetryMax = n }
}

// WithRateLimit bounds outbound requests per second. A non-positive rate
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 6 * time.Second
	rc.Logger = retryLogger{logging.WithComponent("mapsapi")}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		key:     apiKey,
		baseURL: DefaultBaseURL,
		http:    rc,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Geocode resolves free text into a point. A query with no match returns
// discovery.ErrNotFound.
func (c *Client) Geocode(ctx context.Context, query string) (discovery.GeocodeResult, error) {
	q := url.Values{}
	q.Set("address", query)
	raw, err := c.get(ctx, "/geocode/json", q)
	if err != nil {
		return discovery.GeocodeResult{}, err
	}
	return MapGeocodePayload(raw)
}

// Route returns the driving route between two points.
func (c *Client) Route(ctx context.Context, origin, destination discovery.Coordinates) (discovery.CommuteRecord, error) {
	q := url.Values{}
	q.Set("origin", origin.String())
	q.Set("destination", destination.String())
	q.Set("mode", "driving")
	raw, err := c.get(ctx, "/directions/json", q)
	if err != nil {
		return discovery.CommuteRecord{}, err
	}
	return MapDirectionsPayload(raw)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.key != "" {
		q.Set("key", c.key)
	}
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, redactErr(err)
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// transport errors carry the full request URL
		return nil, redactErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrQuotaExceeded
	}
	if resp.StatusCode >= 400 {
		body, _ := ioReadAllLimit(resp.Body, 4<<10)
		return nil, fmt.Errorf("maps api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return ioReadAllLimit(resp.Body, 4<<20) // 4MB guard
}

func ioReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errors.New("payload too large")
	}
	return b, nil
}

// retryLogger routes retryablehttp's leveled logging into zerolog.
type retryLogger struct{ log zerolog.Logger }

func (l retryLogger) Error(msg string, kv ...interface{}) { l.emit(l.log.Error(), msg, kv) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.emit(l.log.Debug(), msg, kv) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.emit(l.log.Trace(), msg, kv) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.emit(l.log.Warn(), msg, kv) }

func (l retryLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(k, redactErr(v))
			continue
		case *url.URL:
			if v != nil {
				kv[i+1] = redactKey(v.String())
			}
		case string:
			if k == "url" {
				kv[i+1] = redactKey(v)
			}
		}
		ev = ev.Interface(k, kv[i+1])
	}
	ev.Msg(msg)
}

func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactErr strips the API key from a *url.Error anywhere in err's chain.
func redactErr(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	clean := &url.Error{Op: ue.Op, URL: redactKey(ue.URL), Err: ue.Err}
	if err == error(ue) {
		return clean
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), ue.URL, clean.URL), err: clean}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
