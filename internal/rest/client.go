package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomchat/loom/internal/chat"
)

// ErrUnauthorized is returned when no token is configured or the
// backend rejects the one presented. Callers surface it as a
// re-authenticate notice; it is never retried.
var ErrUnauthorized = errors.New("authentication required")

// APIError is a non-auth error response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Client is a typed client for the messaging backend's REST API. All
// calls carry the profile's bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SendMessageRequest is the body of POST /messages. Exactly one of
// ReceiverPhone and GroupID is set.
type SendMessageRequest struct {
	ReceiverPhone   string       `json:"receiverPhone,omitempty"`
	GroupID         int64        `json:"groupId,omitempty"`
	Content         chat.Content `json:"content"`
	ClientMessageID string       `json:"clientMessageId"`
}

// User is the authenticated account as reported by the backend.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Me fetches the authenticated user. The id is needed to tell own
// message echoes from inbound ones.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/me", nil, &out); err != nil {
		return User{}, fmt.Errorf("fetch profile: %w", err)
	}
	return out, nil
}

// Conversations fetches the conversation list.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// ConversationMessages fetches the message history of a direct conversation.
func (c *Client) ConversationMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	var out []chat.Message
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("conversation messages: %w", err)
	}
	return out, nil
}

// GroupMessages fetches the message history of a group.
func (c *Client) GroupMessages(ctx context.Context, groupID int64) ([]chat.Message, error) {
	var out []chat.Message
	path := fmt.Sprintf("/groups/%d/messages", groupID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("group messages: %w", err)
	}
	return out, nil
}

// SendMessage durably stores a message. The response carries the server
// id, authoritative timestamp, and status for the correlation id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (chat.Message, error) {
	var out chat.Message
	if err := c.do(ctx, http.MethodPost, "/messages", req, &out); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	return out, nil
}

// CreateDirectConversation creates (or returns) the direct conversation
// with the participant identified by phone.
func (c *Client) CreateDirectConversation(ctx context.Context, phone string) (chat.Conversation, error) {
	body := map[string]string{"participantPhone": phone}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations/direct", body, &out); err != nil {
		return chat.Conversation{}, fmt.Errorf("create direct conversation: %w", err)
	}
	return out, nil
}

// CreateGroup creates a new group conversation.
func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []int64) (chat.Conversation, error) {
	body := map[string]any{"name": name, "memberIds": memberIDs}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/groups", body, &out); err != nil {
		return chat.Conversation{}, fmt.Errorf("create group: %w", err)
	}
	return out, nil
}

// AddGroupMembers adds members to an existing group.
func (c *Client) AddGroupMembers(ctx context.Context, groupID int64, memberIDs []int64) error {
	body := map[string]any{"memberIds": memberIDs}
	path := fmt.Sprintf("/groups/%d/members", groupID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("add group members: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return ErrUnauthorized
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return "unknown error"
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	return "unknown error"
}
