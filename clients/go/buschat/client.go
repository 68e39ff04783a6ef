// Package buschat provides a Go client for the bus rental support chat
// API: starting a conversation, polling for new messages, optimistic
// sends and escalation to a human agent.
package buschat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Poll cadences mirror the reference widget: a fast incremental poll, a
// slower full-log reconcile pass, and (for consoles) a client-only
// watchdog.
const (
	PollInterval      = 500 * time.Millisecond
	ReconcileInterval = 5 * time.Second
	WatchdogInterval  = 2 * time.Second
)

// Message is a chat message on the wire.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderType     string    `json:"sender_type"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
}

// APIError is a non-success envelope returned by the server.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the chat API on behalf of one conversation. All
// methods are safe for concurrent use; the poll loop and Send may run
// from different goroutines.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// AdminID, when set, is sent as the X-Chat-Admin header and message
	// sends go through the admin endpoint.
	AdminID int64

	mu             sync.Mutex
	conversationID string
	status         string
	timeline       *Timeline
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		timeline:   NewTimeline(),
	}
}

// ConversationID returns the id of the active conversation, empty before
// Start or Attach.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Status returns the last observed conversation status.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Entries returns the current timeline snapshot.
func (c *Client) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Entries()
}

// Attach points the client at an existing conversation, e.g. one picked
// from the admin queue. The next Poll fetches its full log.
func (c *Client) Attach(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = conversationID
	c.timeline = NewTimeline()
	c.status = ""
}

type startResponse struct {
	Success        bool      `json:"success"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	Messages       []Message `json:"messages"`
}

// Start opens a new conversation and seeds the timeline with the
// welcome message.
func (c *Client) Start(ctx context.Context) error {
	var resp startResponse
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = resp.ConversationID
	c.status = resp.Status
	c.timeline = NewTimeline()
	c.timeline.Apply(resp.Messages)
	return nil
}

type messagesResponse struct {
	Success  bool      `json:"success"`
	Status   string    `json:"status"`
	Messages []Message `json:"messages"`
}

// Poll fetches messages after the current watermark and merges them.
func (c *Client) Poll(ctx context.Context) error {
	c.mu.Lock()
	after := c.timeline.Watermark()
	c.mu.Unlock()
	return c.fetch(ctx, after)
}

// Reconcile fetches the full log from the beginning. It repairs any gap
// a missed poll left behind; merging is non-destructive, so running it
// on a healthy timeline changes nothing.
func (c *Client) Reconcile(ctx context.Context) error {
	return c.fetch(ctx, 0)
}

// Watchdog probes for customer messages after the watermark. It does
// not merge anything itself: when the probe sees new client activity it
// runs a full reconcile, so the timeline picks up the surrounding bot
// and admin messages too instead of skipping past them.
func (c *Client) Watchdog(ctx context.Context) error {
	id := c.ConversationID()
	if id == "" {
		return fmt.Errorf("no active conversation")
	}

	c.mu.Lock()
	after := c.timeline.Watermark()
	c.mu.Unlock()

	q := url.Values{}
	q.Set("after_id", strconv.FormatInt(after, 10))
	q.Set("client_only", "1")

	var resp messagesResponse
	path := "/conversations/" + id + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if len(resp.Messages) == 0 {
		c.mu.Lock()
		c.status = resp.Status
		c.mu.Unlock()
		return nil
	}
	return c.Reconcile(ctx)
}

func (c *Client) fetch(ctx context.Context, afterID int64) error {
	id := c.ConversationID()
	if id == "" {
		return fmt.Errorf("no active conversation")
	}

	q := url.Values{}
	if afterID > 0 {
		q.Set("after_id", strconv.FormatInt(afterID, 10))
	}
	if c.AdminID == 0 {
		q.Set("view", "client")
	}

	var resp messagesResponse
	path := "/conversations/" + id + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline.Apply(resp.Messages)
	c.status = resp.Status
	return nil
}

type sendResponse struct {
	Success   bool     `json:"success"`
	MessageID int64    `json:"message_id"`
	Status    string   `json:"status"`
	System    *Message `json:"system_message"`
}

// Send posts a message. The timeline shows the text immediately as a
// pending echo; on ack the echo is swapped for the server-assigned id,
// on error it is marked failed and the error returned.
func (c *Client) Send(ctx context.Context, text string) error {
	id := c.ConversationID()
	if id == "" {
		return fmt.Errorf("no active conversation")
	}

	sender := "client"
	path := "/conversations/" + id + "/messages"
	if c.AdminID != 0 {
		sender = "admin"
		path = "/conversations/" + id + "/admin-messages"
	}

	c.mu.Lock()
	tempID := c.timeline.AddPlaceholder(sender, text)
	c.mu.Unlock()

	var resp sendResponse
	err := c.do(ctx, http.MethodPost, path, map[string]string{"content": text}, &resp)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.timeline.Fail(tempID)
		return err
	}
	c.timeline.Confirm(tempID, resp.MessageID, time.Now())
	if resp.Status != "" {
		c.status = resp.Status
	}
	if resp.System != nil {
		c.timeline.Apply([]Message{*resp.System})
	}
	return nil
}

type requestHumanResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// RequestHuman escalates the conversation to a human agent. content may
// carry the customer's problem description and may be empty.
func (c *Client) RequestHuman(ctx context.Context, content string) error {
	id := c.ConversationID()
	if id == "" {
		return fmt.Errorf("no active conversation")
	}

	var body interface{}
	if content != "" {
		body = map[string]string{"content": content}
	}

	var resp requestHumanResponse
	if err := c.do(ctx, http.MethodPost, "/conversations/"+id+"/request-human", body, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = resp.Status
	return nil
}

// Run polls until ctx is done: the fast poll every PollInterval, a
// reconcile pass every ReconcileInterval, and for admin clients the
// client-activity watchdog every WatchdogInterval. Transient errors are
// swallowed so a flaky network only delays updates. onUpdate, if
// non-nil, runs after every successful pass.
func (c *Client) Run(ctx context.Context, onUpdate func()) error {
	poll := time.NewTicker(PollInterval)
	defer poll.Stop()
	reconcile := time.NewTicker(ReconcileInterval)
	defer reconcile.Stop()

	var watchdog <-chan time.Time
	if c.AdminID != 0 {
		t := time.NewTicker(WatchdogInterval)
		defer t.Stop()
		watchdog = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			if err := c.Poll(ctx); err != nil {
				continue
			}
		case <-reconcile.C:
			if err := c.Reconcile(ctx); err != nil {
				continue
			}
		case <-watchdog:
			if err := c.Watchdog(ctx); err != nil {
				continue
			}
		}
		if onUpdate != nil {
			onUpdate()
		}
	}
}

// do performs an HTTP request against the API and decodes the response.
// Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminID != 0 {
		req.Header.Set("X-Chat-Admin", strconv.FormatInt(c.AdminID, 10))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "request failed"}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
