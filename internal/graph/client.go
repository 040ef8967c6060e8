// Package graph talks to the social platform's Graph API: the two-phase
// media publish protocol and the connected-account listing.
package graph

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
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v19.0"

	// MediaTypeReels is the container type for short-form video
	MediaTypeReels = "REELS"

	maxErrorBody = 4096
)

// Publish protocol phases
const (
	PhaseCreate  = "create_media"
	PhasePublish = "publish_media"
	PhaseList    = "list_accounts"
)

// Config holds Graph API client settings
type Config struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// MediaContainer describes the media to create before publishing
type MediaContainer struct {
	MediaType string `json:"media_type"`
	VideoURL  string `json:"video_url"`
	Caption   string `json:"caption,omitempty"`
}

// Client is a Graph API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	logger     *slog.Logger
}

// NewClient creates a new Graph API client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		logger:     logger,
	}
}

// UpstreamError describes a failed Graph API call
type UpstreamError struct {
	Phase      string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("graph %s failed", e.Phase)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, domain.ErrUpstreamPublish) match any UpstreamError
func (e *UpstreamError) Is(target error) bool {
	return target == domain.ErrUpstreamPublish
}

type idResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// CreateMedia creates a media container and returns its creation id
func (c *Client) CreateMedia(ctx context.Context, accountID string, media MediaContainer, accessToken string) (string, error) {
	var resp idResponse
	endpoint := c.endpoint(url.PathEscape(accountID), "media")
	if err := c.do(ctx, PhaseCreate, http.MethodPost, endpoint, accessToken, nil, media, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &UpstreamError{Phase: PhaseCreate, Message: "response has no creation id"}
	}

	c.logger.Info("Media container created",
		slog.String("account_id", accountID),
		slog.String("creation_id", resp.ID),
	)

	return resp.ID, nil
}

// PublishMedia publishes a previously created container and returns the media id
func (c *Client) PublishMedia(ctx context.Context, accountID, creationID, accessToken string) (string, error) {
	var resp idResponse
	body := map[string]string{"creation_id": creationID}
	endpoint := c.endpoint(url.PathEscape(accountID), "media_publish")
	if err := c.do(ctx, PhasePublish, http.MethodPost, endpoint, accessToken, nil, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &UpstreamError{Phase: PhasePublish, Message: "response has no media id"}
	}

	c.logger.Info("Media published",
		slog.String("account_id", accountID),
		slog.String("creation_id", creationID),
		slog.String("media_id", resp.ID),
	)

	return resp.ID, nil
}

type accountsResponse struct {
	Data []struct {
		AccessToken     string `json:"access_token"`
		BusinessAccount *struct {
			Username string `json:"username"`
			ID       string `json:"id"`
		} `json:"instagram_business_account"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// ListAccounts returns every page the token manages that has a linked
// business account, with the page token to publish as
func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]domain.Account, error) {
	query := url.Values{}
	query.Set("fields", "access_token,instagram_business_account{username,id}")

	accounts := []domain.Account{}
	endpoint := c.endpoint("me", "accounts")
	for endpoint != "" {
		var resp accountsResponse
		if err := c.do(ctx, PhaseList, http.MethodGet, endpoint, accessToken, query, nil, &resp); err != nil {
			return nil, err
		}

		for _, page := range resp.Data {
			if page.BusinessAccount == nil {
				continue
			}
			accounts = append(accounts, domain.Account{
				Username:    page.BusinessAccount.Username,
				AccountID:   page.BusinessAccount.ID,
				AccessToken: page.AccessToken,
			})
		}

		// The next link already carries the query and token
		endpoint, query, accessToken = resp.Paging.Next, nil, ""
	}

	return accounts, nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/" + c.apiVersion + "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, phase, method, endpoint, accessToken string, query url.Values, in, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &UpstreamError{Phase: phase, Err: err}
	}
	if query != nil || accessToken != "" {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		if accessToken != "" {
			q.Set("access_token", accessToken)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &UpstreamError{Phase: phase, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &UpstreamError{Phase: phase, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error would echo the access token in the query string
		return &UpstreamError{Phase: phase, Err: redactURLError(err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		message := strings.TrimSpace(string(payload))

		var apiErr errorResponse
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}

		c.logger.Error("Graph API request returned non-OK status code",
			slog.String("phase", phase),
			slog.String("method", method),
			slog.String("path", u.Path),
			slog.Int("status", res.StatusCode),
			slog.String("message", message),
		)
		return &UpstreamError{Phase: phase, StatusCode: res.StatusCode, Message: message}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &UpstreamError{Phase: phase, StatusCode: res.StatusCode, Message: "unexpected response body", Err: err}
	}

	return nil
}

func redactURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request failed: %w", uerr.Op, uerr.Err)
	}
	return err
}
