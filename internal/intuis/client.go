// Package intuis provides an API client for the Intuis Connect (Muller
// Intuitiv) heating cloud.
//
// The cloud is served from several equivalent cluster endpoints. The client
// tries them in priority order, sticks to the first one that works and fails
// over when it stops working. Access tokens are refreshed proactively before
// they expire; concurrent callers share a single in-flight refresh.
package intuis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	authPath           = "/oauth2/token"
	homesDataPath      = "/api/homesdata"
	homeStatusPath     = "/syncapi/v1/homestatus"
	setStatePath       = "/syncapi/v1/setstate"
	roomMeasurePath    = "/api/getroommeasure"
	switchSchedulePath = "/api/switchhomeschedule"
	syncSchedulePath   = "/api/synchomeschedule"
)

const (
	clientID     = "59e604638fe283fd4dc7e353"
	clientSecret = "ZW2vL8czEkn87zemtR1h1ZB0ZVwoeR"
	authScope    = "read_muller write_muller"
	userPrefix   = "muller"
	appType      = "app_muller"
	appVersion   = "1108100"
)

// DefaultClusters are the production cluster endpoints, in priority order.
var DefaultClusters = []string{
	"https://app.muller-intuitiv.net",
	"https://app-prod.intuis-sas.com",
}

const (
	// refresh the access token when less than this lifetime remains
	tokenLifetimeBuffer = time.Minute
	// energy measure types: base meter plus tariff buckets (EJP peak/off-peak)
	measureTypes = "sum_energy_elec,sum_energy_elec$0,sum_energy_elec$1,sum_energy_elec$2"

	maxAttempts      = 3
	maxRateAttempts  = 5
	retryInterval    = 500 * time.Millisecond
	maxRetryInterval = 30 * time.Second
	maxRetryAfter    = time.Minute
)

// Client is an API client for one Intuis Connect account.
type Client struct {
	HTTPClient *http.Client

	username string
	password string
	clusters *clusterPool
	logger   *slog.Logger

	// authLock guards the account session: tokens, home id and timezone.
	authLock     sync.Mutex
	homeID       string
	timezone     string
	accessToken  string
	refreshToken string
	expiry       time.Time
	flight       *tokenFlight
}

// New creates a Client for the given account. baseURLs may be nil to use
// DefaultClusters.
func New(username, password string, baseURLs []string, logger *slog.Logger) *Client {
	if len(baseURLs) == 0 {
		baseURLs = DefaultClusters
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		username:   username,
		password:   password,
		clusters:   newClusterPool(baseURLs),
		logger:     logger,
	}
}

// HomeID returns the id of the home the client operates on. Empty until the
// first GetHomesData call, unless pinned with SetHomeID.
func (c *Client) HomeID() string {
	id, _ := c.home()
	return id
}

// SetHomeID pins the client to one home on a multi-home account.
func (c *Client) SetHomeID(id string) {
	c.authLock.Lock()
	defer c.authLock.Unlock()
	c.homeID = id
}

// Location returns the home's timezone, falling back to UTC until the first
// GetHomesData call has recorded it.
func (c *Client) Location() *time.Location {
	_, timezone := c.home()
	if loc, err := time.LoadLocation(timezone); err == nil {
		return loc
	}
	return time.UTC
}

func (c *Client) home() (id, timezone string) {
	c.authLock.Lock()
	defer c.authLock.Unlock()
	return c.homeID, c.timezone
}

// Reset discards the session. The next call authenticates from scratch.
func (c *Client) Reset() {
	c.authLock.Lock()
	defer c.authLock.Unlock()
	c.accessToken = ""
	c.refreshToken = ""
	c.expiry = time.Time{}
}

// GetHomesData returns the home's static configuration (rooms, modules,
// schedules) and records its id and timezone for subsequent calls.
func (c *Client) GetHomesData(ctx context.Context) (Home, error) {
	var response struct {
		Body struct {
			Homes []Home `json:"homes"`
		} `json:"body"`
	}
	err := c.do(ctx, call{method: http.MethodGet, path: homesDataPath, authenticated: true, idempotent: true}, &response)
	if err != nil {
		return Home{}, err
	}
	if len(response.Body.Homes) == 0 {
		return Home{}, &APIError{Message: "no homes associated with account"}
	}
	home := response.Body.Homes[0]
	if pinned, _ := c.home(); pinned != "" {
		found := false
		for _, h := range response.Body.Homes {
			if h.ID == pinned {
				home, found = h, true
				break
			}
		}
		if !found {
			return Home{}, &APIError{Message: "home " + pinned + " not found"}
		}
	}
	c.authLock.Lock()
	c.homeID = home.ID
	c.timezone = home.Timezone
	c.authLock.Unlock()
	return home, nil
}

// GetHomeStatus returns the live state of all rooms and modules.
func (c *Client) GetHomeStatus(ctx context.Context) (HomeStatus, error) {
	var response struct {
		Body struct {
			Home HomeStatus `json:"home"`
		} `json:"body"`
	}
	form := url.Values{"home_id": []string{c.HomeID()}}
	err := c.do(ctx, call{method: http.MethodPost, path: homeStatusPath, form: form, authenticated: true, idempotent: true}, &response)
	if err != nil {
		return HomeStatus{}, err
	}
	if response.Body.Home.ID == "" && len(response.Body.Home.Rooms) == 0 {
		return HomeStatus{}, &APIError{Message: "empty home status response"}
	}
	return response.Body.Home, nil
}

type setStateRoom struct {
	ID          string   `json:"id"`
	Mode        string   `json:"therm_setpoint_mode"`
	Temperature *float64 `json:"therm_setpoint_temperature,omitempty"`
	EndTime     *int64   `json:"therm_setpoint_end_time,omitempty"`
}

// SetRoomState pushes a setpoint mutation for one room. The request carries
// an idempotency key so transient failures can be retried without risking a
// duplicate effect.
func (c *Client) SetRoomState(ctx context.Context, cmd RoomCommand) error {
	room := setStateRoom{ID: cmd.RoomID, Mode: cmd.Mode}
	if cmd.Mode == ModeManual || cmd.Mode == ModeAway || cmd.Mode == ModeBoost {
		if cmd.Temperature == 0 {
			return &APIError{Message: cmd.Mode + " mode requires a temperature"}
		}
		room.Temperature = &cmd.Temperature
		room.EndTime = &cmd.EndTime
	}
	payload := struct {
		AppType    string `json:"app_type"`
		AppVersion string `json:"app_version"`
		Home       struct {
			ID       string         `json:"id"`
			Timezone string         `json:"timezone"`
			Rooms    []setStateRoom `json:"rooms"`
		} `json:"home"`
	}{AppType: appType, AppVersion: appVersion}
	payload.Home.ID, payload.Home.Timezone = c.home()
	payload.Home.Rooms = []setStateRoom{room}

	return c.do(ctx, call{
		method:         http.MethodPost,
		path:           setStatePath,
		json:           payload,
		authenticated:  true,
		idempotent:     true,
		idempotencyKey: uuid.NewString(),
	}, nil)
}

// GetRoomMeasure returns energy readings for one room at the given scale
// (5min, 30min, 1hour, 1day) over [from, to].
func (c *Client) GetRoomMeasure(ctx context.Context, roomID, scale string, from, to time.Time) ([]Measure, error) {
	var response struct {
		Body []Measure `json:"body"`
	}
	form := url.Values{
		"home_id":    []string{c.HomeID()},
		"room_id":    []string{roomID},
		"scale":      []string{scale},
		"type":       []string{measureTypes},
		"date_begin": []string{strconv.FormatInt(from.Unix(), 10)},
		"date_end":   []string{strconv.FormatInt(to.Unix(), 10)},
	}
	err := c.do(ctx, call{method: http.MethodPost, path: roomMeasurePath, form: form, authenticated: true, idempotent: true}, &response)
	if err != nil {
		return nil, err
	}
	return response.Body, nil
}

// SwitchSchedule makes the given schedule the active one.
func (c *Client) SwitchSchedule(ctx context.Context, scheduleID string) error {
	payload := struct {
		HomeID     string `json:"home_id"`
		ScheduleID string `json:"schedule_id"`
	}{HomeID: c.HomeID(), ScheduleID: scheduleID}
	return c.do(ctx, call{
		method:         http.MethodPost,
		path:           switchSchedulePath,
		json:           payload,
		authenticated:  true,
		idempotent:     true,
		idempotencyKey: uuid.NewString(),
	}, nil)
}

// SyncSchedule writes a full schedule (timetable + zone temperatures) back to
// the cloud.
func (c *Client) SyncSchedule(ctx context.Context, payload SchedulePayload) error {
	payload.HomeID = c.HomeID()
	var response struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	err := c.do(ctx, call{
		method:         http.MethodPost,
		path:           syncSchedulePath,
		json:           payload,
		authenticated:  true,
		idempotent:     true,
		idempotencyKey: uuid.NewString(),
	}, &response)
	if err != nil {
		return err
	}
	if response.Error != nil {
		return &APIError{StatusCode: response.Error.Code, Message: "sync schedule: " + response.Error.Message}
	}
	return nil
}

// call is one logical request to the cloud.
type call struct {
	method         string
	path           string
	form           url.Values
	json           any
	authenticated  bool
	idempotent     bool
	idempotencyKey string
}

// do executes a call with token management, bounded retries and cluster
// failover. Only idempotent calls are retried on transient failures.
func (c *Client) do(ctx context.Context, ca call, out any) error {
	var body []byte
	var contentType string
	var err error
	switch {
	case ca.json != nil:
		if body, err = json.Marshal(ca.json); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		contentType = "application/json"
	case ca.form != nil:
		body = []byte(ca.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	var transientFailures, rateFailures int
	var refreshed bool
	var lastErr error

	for {
		baseURL, ok := c.clusters.pick(time.Now())
		if !ok {
			return &transientError{err: errors.New("all cluster endpoints are down")}
		}

		var token string
		if ca.authenticated {
			if token, err = c.ensureToken(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, ca.method, baseURL+ca.path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if ca.idempotencyKey != "" {
			req.Header.Set("X-Idempotency-Key", ca.idempotencyKey)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.clusters.failure(baseURL, time.Now())
			lastErr = err
			transientFailures++
			if !ca.idempotent || transientFailures >= maxAttempts {
				return &transientError{err: lastErr}
			}
			c.logger.Warn("call failed, retrying", "path", ca.path, "attempt", transientFailures, "err", err)
			if err = sleep(ctx, backoff(transientFailures)); err != nil {
				return err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized && ca.authenticated && !refreshed:
			// stale token: one forced refresh, then a single retry
			refreshed = true
			c.invalidateToken(token)
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			rateFailures++
			delay := retryAfter(resp, rateFailures)
			if rateFailures >= maxRateAttempts {
				return &RateLimitedError{RetryAfter: delay}
			}
			c.logger.Warn("rate limited, backing off", "path", ca.path, "attempt", rateFailures, "delay", delay)
			if err = sleep(ctx, delay); err != nil {
				return err
			}
			continue

		case resp.StatusCode >= 500:
			c.clusters.failure(baseURL, time.Now())
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			transientFailures++
			if !ca.idempotent || transientFailures >= maxAttempts {
				return &transientError{err: lastErr}
			}
			if err = sleep(ctx, backoff(transientFailures)); err != nil {
				return err
			}
			continue

		case resp.StatusCode != http.StatusOK:
			return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}

		c.clusters.success(baseURL)
		if readErr != nil {
			return &transientError{err: readErr}
		}
		if out != nil {
			if err = json.Unmarshal(respBody, out); err != nil {
				return &APIError{Message: "decode response: " + err.Error()}
			}
		}
		return nil
	}
}

// tokenFlight is a single in-flight token renewal. Concurrent callers wait
// for the leader rather than issuing their own refresh.
type tokenFlight struct {
	done chan struct{}
	err  error
}

// ensureToken returns a valid access token, renewing it first when less than
// tokenLifetimeBuffer of its lifetime remains.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.authLock.Lock()
	for {
		if c.accessToken != "" && time.Until(c.expiry) > tokenLifetimeBuffer {
			token := c.accessToken
			c.authLock.Unlock()
			return token, nil
		}

		if f := c.flight; f != nil {
			c.authLock.Unlock()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-f.done:
			}
			if f.err != nil {
				return "", f.err
			}
			c.authLock.Lock()
			continue
		}

		f := &tokenFlight{done: make(chan struct{})}
		c.flight = f
		c.authLock.Unlock()

		err := c.renewToken(ctx)

		c.authLock.Lock()
		f.err = err
		c.flight = nil
		close(f.done)
		if err != nil {
			c.authLock.Unlock()
			return "", err
		}
	}
}

// invalidateToken drops the access token if it is still the one that just got
// rejected, forcing the next ensureToken to refresh.
func (c *Client) invalidateToken(rejected string) {
	c.authLock.Lock()
	defer c.authLock.Unlock()
	if c.accessToken == rejected {
		c.accessToken = ""
	}
}

// renewToken refreshes the access token, or logs in with the account
// credentials if there is no refresh token yet. A 4xx response means the
// credentials are invalid or revoked and is permanent; transient failures
// are retried by do's usual policy.
func (c *Client) renewToken(ctx context.Context) error {
	c.authLock.Lock()
	refreshToken := c.refreshToken
	c.authLock.Unlock()

	form := url.Values{
		"client_id":     []string{clientID},
		"client_secret": []string{clientSecret},
		"user_prefix":   []string{userPrefix},
	}
	if refreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
	} else {
		if c.username == "" {
			return &AuthError{Reason: "no credentials"}
		}
		form.Set("grant_type", "password")
		form.Set("username", c.username)
		form.Set("password", c.password)
		form.Set("scope", authScope)
		form.Set("app_version", appVersion)
	}

	var response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	err := c.do(ctx, call{method: http.MethodPost, path: authPath, form: form, idempotent: true}, &response)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return &AuthError{Reason: "token grant rejected", Err: err}
		}
		return err
	}
	if response.AccessToken == "" {
		return &AuthError{Reason: "token grant returned no access token"}
	}

	expiresIn := response.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 10800
	}

	c.authLock.Lock()
	c.accessToken = response.AccessToken
	if response.RefreshToken != "" {
		c.refreshToken = response.RefreshToken
	}
	c.expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	c.authLock.Unlock()

	c.logger.Debug("token renewed", "expires_in", expiresIn)
	return nil
}

// backoff returns a jittered exponential delay for the given attempt count.
func backoff(attempt int) time.Duration {
	d := retryInterval << (attempt - 1)
	if d > maxRetryInterval {
		d = maxRetryInterval
	}
	return d/2 + rand.N(d/2)
}

// retryAfter honors a server-specified Retry-After, capped, falling back to
// jittered exponential backoff.
func retryAfter(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			delay := time.Duration(seconds) * time.Second
			if delay > maxRetryAfter {
				delay = maxRetryAfter
			}
			return delay
		}
	}
	return backoff(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
