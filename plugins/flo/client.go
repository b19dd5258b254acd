package flo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-flo/internal/tokenstore"
)

const (
	defaultBaseURL = "https://api-gw.meetflo.com/api"

	// OAuth2 credentials extracted from the Moen mobile app.
	oauthClientID     = "3baec26f-0e8b-4e1d-84b0-e178f05ea0a5"
	oauthClientSecret = "3baec26f-0e8b-4e1d-84b0-e178f05ea0a5"

	authTimeout    = 10 * time.Second
	requestTimeout = 20 * time.Second

	// Tokens are refreshed this far ahead of expiry so an in-flight request
	// cannot race token expiration.
	tokenExpiryMargin = 5 * time.Minute

	consumptionTimeLayout = "2006-01-02T15:04:05.000"
)

// AuthError is an authentication or credentials problem. It is not retried
// beyond the refresh-to-reauthenticate fallback.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "flo authentication failed: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError is any other transport or HTTP failure. The next poll cycle
// retries implicitly.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "flo request failed: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// HTTPStatusError surfaces non-2xx vendor responses.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("flo api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Flo REST API with OAuth2 password-grant authentication.
// One client is shared by every device coordinator of an account; the token
// state is mutex-guarded so sibling coordinators cannot race a refresh.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	store      *tokenstore.Store
	logger     *slog.Logger

	mu     sync.Mutex
	token  *oauth2.Token
	userID string
	now    func() time.Time
}

func NewClient(cfg Config, store *tokenstore.Store, logger *slog.Logger) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{},
		store:      store,
		logger:     logger,
		now:        time.Now,
	}

	if store != nil {
		if state, err := store.Load(context.Background()); err == nil {
			c.token = &oauth2.Token{RefreshToken: state.RefreshToken}
			c.userID = state.UserID
		} else if !errors.Is(err, tokenstore.ErrStateNotFound) {
			logger.Warn("failed to load persisted token state", "error", err)
		}
	}

	return c
}

// UserID returns the authenticated user's id.
func (c *Client) UserID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return "", &AuthError{Err: errors.New("not authenticated")}
	}
	return c.userID, nil
}

// Authenticate performs the OAuth2 password grant against the token endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	grant, err := c.tokenGrant(ctx, map[string]string{
		"client_id":     oauthClientID,
		"client_secret": oauthClientSecret,
		"grant_type":    "password",
		"username":      c.username,
		"password":      c.password,
	})
	if err != nil {
		return &AuthError{Err: err}
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" || grant.UserID == "" || grant.ExpiresIn <= 0 {
		return &AuthError{Err: errors.New("token response missing expected fields")}
	}

	c.token = &oauth2.Token{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}
	c.userID = grant.UserID
	c.logger.Debug("authenticated", "expires_in", grant.ExpiresIn)
	c.persistLocked(ctx)
	return nil
}

// refreshAccessTokenLocked exchanges the refresh token for a new access
// token. Any refresh failure falls back to full re-authentication; refresh
// is never fatal while the password grant can still succeed.
func (c *Client) refreshAccessTokenLocked(ctx context.Context) error {
	if c.token == nil || c.token.RefreshToken == "" {
		return c.authenticateLocked(ctx)
	}

	grant, err := c.tokenGrant(ctx, map[string]string{
		"client_id":     oauthClientID,
		"client_secret": oauthClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": c.token.RefreshToken,
	})
	if err != nil || grant.AccessToken == "" || grant.ExpiresIn <= 0 {
		c.logger.Warn("token refresh failed, re-authenticating", "error", err)
		return c.authenticateLocked(ctx)
	}

	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		// Rotation is optional; keep the current refresh token.
		refreshToken = c.token.RefreshToken
	}
	c.token = &oauth2.Token{
		AccessToken:  grant.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       c.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}
	c.logger.Debug("token refreshed", "expires_in", grant.ExpiresIn)
	c.persistLocked(ctx)
	return nil
}

func (c *Client) ensureTokenValidLocked(ctx context.Context) error {
	if c.token == nil || c.token.AccessToken == "" {
		if c.token != nil && c.token.RefreshToken != "" {
			return c.refreshAccessTokenLocked(ctx)
		}
		return c.authenticateLocked(ctx)
	}
	if c.token.Expiry.IsZero() {
		return c.authenticateLocked(ctx)
	}
	if c.token.Expiry.Sub(c.now()) <= tokenExpiryMargin {
		return c.refreshAccessTokenLocked(ctx)
	}
	return nil
}

// Token returns a valid bearer token, refreshing or re-authenticating as
// needed. It satisfies the context token source shape shared by plugins.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureTokenValidLocked(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

type tokenGrantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	ExpiresIn    int    `json:"expires_in"`
}

func (c *Client) tokenGrant(ctx context.Context, form map[string]string) (tokenGrantResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	payload, err := json.Marshal(form)
	if err != nil {
		return tokenGrantResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", bytes.NewReader(payload))
	if err != nil {
		return tokenGrantResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenGrantResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return tokenGrantResponse{}, HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var grant tokenGrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return tokenGrantResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	return grant, nil
}

func (c *Client) persistLocked(ctx context.Context) {
	if c.store == nil {
		return
	}
	state := tokenstore.State{
		SchemaVersion: tokenstore.SchemaVersion,
		UserID:        c.userID,
		RefreshToken:  c.token.RefreshToken,
		UpdatedAt:     c.now().UTC(),
	}
	if err := c.store.Save(ctx, state); err != nil {
		c.logger.Warn("failed to persist token state", "error", err)
	}
}

// Do issues an authenticated JSON request. Relative paths resolve against
// the v2 API base; absolute URLs pass through. A default 20-second timeout
// applies when the caller's context carries no deadline.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body any) (Document, error) {
	accessToken, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := path
	if strings.HasPrefix(path, "/") {
		endpoint = c.baseURL + "/v2" + path
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &RequestError{Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &RequestError{Err: HTTPStatusError{Status: resp.StatusCode, Body: string(data)}}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &RequestError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return doc, nil
}

// UserInfo fetches the user record, optionally expanding nested locations
// and alarm settings.
func (c *Client) UserInfo(ctx context.Context, includeLocations, includeAlarmSettings bool) (Document, error) {
	userID, err := c.UserID()
	if err != nil {
		return nil, err
	}

	var expand []string
	if includeLocations {
		expand = append(expand, "locations")
	}
	if includeAlarmSettings {
		expand = append(expand, "alarmSettings")
	}

	params := url.Values{}
	if len(expand) > 0 {
		params.Set("expand", strings.Join(expand, ","))
	}
	return c.Do(ctx, http.MethodGet, "/users/"+userID, params, nil)
}

func (c *Client) DeviceInfo(ctx context.Context, deviceID string) (Document, error) {
	return c.Do(ctx, http.MethodGet, "/devices/"+deviceID, nil, nil)
}

func (c *Client) LocationInfo(ctx context.Context, locationID string) (Document, error) {
	return c.Do(ctx, http.MethodGet, "/locations/"+locationID, nil, nil)
}

// ConsumptionInfo fetches water consumption for the location over the given
// window at a fixed 1-hour granularity.
func (c *Client) ConsumptionInfo(ctx context.Context, locationID string, start, end time.Time) (Document, error) {
	params := url.Values{}
	params.Set("startDate", start.Format(consumptionTimeLayout))
	params.Set("endDate", end.Format(consumptionTimeLayout))
	params.Set("interval", "1h")
	params.Set("locationId", locationID)
	return c.Do(ctx, http.MethodGet, "/water/consumption", params, nil)
}

// SendPresencePing keeps the cloud-side device session alive.
func (c *Client) SendPresencePing(ctx context.Context) error {
	_, err := c.Do(ctx, http.MethodPost, "/presence/me", nil, nil)
	return err
}

// SetValveState sets the shutoff valve target, "open" or "closed".
func (c *Client) SetValveState(ctx context.Context, deviceID, target string) error {
	body := map[string]any{"valve": map[string]any{"target": target}}
	_, err := c.Do(ctx, http.MethodPost, "/devices/"+deviceID, nil, body)
	return err
}

// RunHealthTest triggers a device health test.
func (c *Client) RunHealthTest(ctx context.Context, deviceID string) error {
	_, err := c.Do(ctx, http.MethodPost, "/devices/"+deviceID+"/healthTest/run", nil, nil)
	return err
}

// SetLocationMode sets the location system mode, "home" or "away".
func (c *Client) SetLocationMode(ctx context.Context, locationID, mode string) error {
	body := map[string]any{"systemMode": map[string]any{"target": mode}}
	_, err := c.Do(ctx, http.MethodPost, "/locations/"+locationID+"/systemMode", nil, body)
	return err
}

// SetLocationModeSleep puts the location to sleep, reverting to the given
// mode after revertMinutes.
func (c *Client) SetLocationModeSleep(ctx context.Context, locationID string, revertMinutes int, revertMode string) error {
	body := map[string]any{"systemMode": map[string]any{
		"target":        "sleep",
		"revertMinutes": revertMinutes,
		"revertMode":    revertMode,
	}}
	_, err := c.Do(ctx, http.MethodPost, "/locations/"+locationID+"/systemMode", nil, body)
	return err
}
