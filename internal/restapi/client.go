// Package restapi is a thin client for the marketplace chat REST API — the
// durable side of the room/message contract. The realtime session only
// supplements it.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Room is a chat conversation entity.
type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Members     []string `json:"members,omitempty"`
	LastMessage string   `json:"last_message,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

// Message is a durable chat message record.
type Message struct {
	ID            string `json:"id"`
	RoomID        string `json:"roomId"`
	SenderID      string `json:"senderId"`
	Message       string `json:"message"`
	CreatedAt     string `json:"created_at,omitempty"`
	PrivacyMasked bool   `json:"privacy_masked,omitempty"`
}

// envelope is the outer response shape: {status, data: {...}}.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// listBody is the inner object of list responses.
type listBody struct {
	Data       json.RawMessage `json:"data"`
	TotalCount int             `json:"total_count"`
}

// itemBody is the inner object of single-item responses.
type itemBody struct {
	Data json.RawMessage `json:"data"`
}

// Client talks to the chat REST API with bearer-token auth.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient creates a REST client. token may be empty for unauthenticated
// deployments.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Ping reports whether the API responds at all. Any HTTP response counts as
// reachable; only transport failures do not.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rooms?page=1&limit=1", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("chat API unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ListRooms fetches one page of rooms. Returns the page and the total count.
func (c *Client) ListRooms(ctx context.Context, page, limit int) ([]Room, int, error) {
	raw, total, err := c.getList(ctx, "/rooms", page, limit)
	if err != nil {
		return nil, 0, err
	}
	var rooms []Room
	if err := json.Unmarshal(raw, &rooms); err != nil {
		return nil, 0, fmt.Errorf("decoding rooms: %w", err)
	}
	return rooms, total, nil
}

// RoomMessages fetches one page of a room's messages.
func (c *Client) RoomMessages(ctx context.Context, roomID string, page, limit int) ([]Message, int, error) {
	if roomID == "" {
		return nil, 0, fmt.Errorf("restapi: roomID is required")
	}
	raw, total, err := c.getList(ctx, "/rooms/"+url.PathEscape(roomID)+"/messages", page, limit)
	if err != nil {
		return nil, 0, err
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, 0, fmt.Errorf("decoding messages: %w", err)
	}
	return msgs, total, nil
}

// CreateRoom creates a room with the given name and members.
func (c *Client) CreateRoom(ctx context.Context, name string, members []string) (Room, error) {
	body := map[string]any{"name": name, "members": members}
	raw, err := c.send(ctx, http.MethodPost, "/rooms", body)
	if err != nil {
		return Room{}, err
	}
	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return Room{}, fmt.Errorf("decoding created room: %w", err)
	}
	return room, nil
}

// SendMessage performs the durable send. The realtime broadcast is the
// session manager's separate, supplementary job.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) (Message, error) {
	if roomID == "" {
		return Message{}, fmt.Errorf("restapi: roomID is required")
	}
	body := map[string]any{"message": message}
	raw, err := c.send(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", body)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding sent message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a message record.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("restapi: messageID is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp)
	}
	return nil
}

func (c *Client) getList(ctx context.Context, path string, page, limit int) (json.RawMessage, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, httpError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, 0, fmt.Errorf("decoding envelope: %w", err)
	}
	var lb listBody
	if err := json.Unmarshal(env.Data, &lb); err != nil {
		return nil, 0, fmt.Errorf("decoding list body: %w", err)
	}
	return lb.Data, lb.TotalCount, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	var ib itemBody
	if err := json.Unmarshal(env.Data, &ib); err != nil {
		return nil, fmt.Errorf("decoding item body: %w", err)
	}
	return ib.Data, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func httpError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("chat API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
