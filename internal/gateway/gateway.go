// Package gateway wraps all network calls to the two content backends and
// normalizes their success/notFound/failure envelope into one result shape.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"doorstepauto/storefront/internal/domain"
)

// ErrNotConfigured is returned when an operation targets a backend whose
// base URL is empty. Critical reads and every write refuse with it; the
// reviews read degrades instead.
var ErrNotConfigured = errors.New("backend URL not configured")

const (
	statusSuccess  = "success"
	statusNotFound = "notFound"
)

// Progress is an advisory busy-indicator hook invoked around long-running
// calls. It is never correctness-relevant and may be nil.
type Progress func(active bool, message string)

type Client struct {
	mainURL     string
	userDataURL string
	httpClient  *http.Client
	progress    Progress
}

// New builds a gateway client over the main content backend and the
// user-data backend. Either URL may be empty; operations against the empty
// one fail or degrade per their contract.
func New(mainURL string, userDataURL string, progress Progress) *Client {
	if progress == nil {
		progress = func(bool, string) {}
	}
	return &Client{
		mainURL:     mainURL,
		userDataURL: userDataURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		progress:    progress,
	}
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// get issues an action read. It reports found=false without error when the
// backend answers notFound; any transport, HTTP or envelope failure comes
// back on the single error channel.
func (c *Client) get(ctx context.Context, baseURL string, action string, params url.Values, out any) (bool, error) {
	if baseURL == "" {
		return false, fmt.Errorf("action %q: %w", action, ErrNotConfigured)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return false, fmt.Errorf("action %q: invalid backend URL: %w", action, err)
	}
	q := u.Query()
	q.Set("action", action)
	for key, vals := range params {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	startedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("action %q: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("action %q: read response: %w", action, err)
	}
	log.Printf("[gateway] GET %s %d %s", action, resp.StatusCode, time.Since(startedAt))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("action %q: server responded with %d: %s", action, resp.StatusCode, truncate(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, fmt.Errorf("action %q: malformed response: %w", action, err)
	}
	switch env.Status {
	case statusSuccess:
	case statusNotFound:
		return false, nil
	default:
		if env.Message != "" {
			return false, fmt.Errorf("action %q: %s", action, env.Message)
		}
		return false, fmt.Errorf("action %q: unknown backend error", action)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return false, fmt.Errorf("action %q: malformed payload: %w", action, err)
		}
	}
	return true, nil
}

// post issues an action write carrying the {action, payload} envelope. The
// backends expect the body declared as plain text. Reports found=false
// without error on a notFound answer.
func (c *Client) post(ctx context.Context, baseURL string, action string, payload any, loadingMessage string) (bool, error) {
	if baseURL == "" {
		return false, fmt.Errorf("cannot perform action %q: %w", action, ErrNotConfigured)
	}

	if loadingMessage != "" {
		c.progress(true, loadingMessage)
		defer c.progress(false, "")
	}

	body, err := json.Marshal(map[string]any{"action": action, "payload": payload})
	if err != nil {
		return false, fmt.Errorf("action %q: encode payload: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	req.Header.Set("X-Request-ID", uuid.NewString())

	startedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("action %q: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("action %q: read response: %w", action, err)
	}
	log.Printf("[gateway] POST %s %d %s", action, resp.StatusCode, time.Since(startedAt))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("action %q: server responded with %d: %s", action, resp.StatusCode, truncate(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return false, fmt.Errorf("action %q: malformed response: %w", action, err)
	}
	switch env.Status {
	case statusSuccess:
		return true, nil
	case statusNotFound:
		return false, nil
	default:
		if env.Message != "" {
			return false, fmt.Errorf("action %q: %s", action, env.Message)
		}
		return false, fmt.Errorf("action %q: unknown backend error", action)
	}
}

// FetchHomepageData loads reels, testimonials and banners from the main
// backend. Non-critical to startup but the error is reported to the caller.
func (c *Client) FetchHomepageData(ctx context.Context) (domain.HomepageData, error) {
	var data domain.HomepageData
	if _, err := c.get(ctx, c.mainURL, "getHomepageData", nil, &data); err != nil {
		return domain.HomepageData{}, err
	}
	return data, nil
}

// FetchCoreData loads the catalog and car database. A failure here is fatal
// to app initialization.
func (c *Client) FetchCoreData(ctx context.Context) (domain.CoreData, error) {
	var data domain.CoreData
	if _, err := c.get(ctx, c.mainURL, "getCoreData", nil, &data); err != nil {
		return domain.CoreData{}, err
	}
	return data, nil
}

// FetchReviews loads customer reviews in the background. It must never block
// app usability: any failure, including a missing backend URL, degrades to
// an empty result.
func (c *Client) FetchReviews(ctx context.Context) []domain.Review {
	var data struct {
		Reviews []domain.Review `json:"reviews"`
	}
	if _, err := c.get(ctx, c.userDataURL, "getReviews", nil, &data); err != nil {
		log.Printf("[gateway] WARN: background reviews fetch failed: %v", err)
		return nil
	}
	return data.Reviews
}

// FetchUserData looks up a profile and order history by mobile number. A
// notFound answer is a legitimate miss: the user does not exist yet, and
// the result is nil with no error.
func (c *Client) FetchUserData(ctx context.Context, mobile string) (*domain.UserData, error) {
	c.progress(true, "Fetching your data...")
	defer c.progress(false, "")

	params := url.Values{"mobile": {mobile}}
	var data domain.UserData
	found, err := c.get(ctx, c.userDataURL, "getUserData", params, &data)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if data.Orders == nil {
		data.Orders = []domain.Order{}
	}
	return &data, nil
}

// FetchCarDatabase loads just the vehicle database from the main backend.
func (c *Client) FetchCarDatabase(ctx context.Context) ([]domain.CarBrand, error) {
	var data struct {
		CarData []domain.CarBrand `json:"carData"`
	}
	if _, err := c.get(ctx, c.mainURL, "getCarData", nil, &data); err != nil {
		return nil, err
	}
	return data.CarData, nil
}

// SaveNewOrder appends the tracking-history seed entry and posts the order
// to the user-data backend as a one-element array. On confirmed success it
// returns the order as saved; a notFound answer returns nil without error.
func (c *Client) SaveNewOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	order.TrackingHistory = []domain.TrackingEvent{
		{Status: domain.OrderStatusPlaced, Timestamp: time.Now().UTC()},
	}
	found, err := c.post(ctx, c.userDataURL, "saveOrders", []domain.Order{order}, "Saving your order...")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &order, nil
}

// SaveReview posts a composed review to the user-data backend.
func (c *Client) SaveReview(ctx context.Context, review domain.Review) error {
	_, err := c.post(ctx, c.userDataURL, "saveReview", review, "Submitting your review...")
	return err
}

// SaveProfile persists the full profile object to the user-data backend.
func (c *Client) SaveProfile(ctx context.Context, profile domain.UserProfile) error {
	_, err := c.post(ctx, c.userDataURL, "saveUserData", profile, "Saving profile...")
	return err
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
