// Package genie talks to the Databricks Genie conversation API and folds its
// polymorphic responses into the bridge's result model.
package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	model "github.com/vnguyen/genie-bridge/internal/model/genie"
)

// ErrMalformedResponse marks payloads that failed to decode, so callers can
// tell decode failures apart from transport failures.
var ErrMalformedResponse = errors.New("malformed genie response")

// API is the remote surface the querier consumes. Start/continue block until
// Genie finishes processing the message.
type API interface {
	StartConversationAndWait(ctx context.Context, spaceID, content string) (*Message, error)
	CreateMessageAndWait(ctx context.Context, spaceID, conversationID, content string) (*Message, error)
	GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (*Message, error)
	GetQueryResultByAttachment(ctx context.Context, spaceID, conversationID, messageID, attachmentID string) (*StatementResponse, error)
}

// Message is a Genie conversation message.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Content        string       `json:"content"`
	Status         string       `json:"status"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Message processing statuses. Anything not listed here is still in flight.
const (
	StatusCompleted          = "COMPLETED"
	StatusFailed             = "FAILED"
	StatusCancelled          = "CANCELLED"
	StatusQueryResultExpired = "QUERY_RESULT_EXPIRED"
)

func terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusQueryResultExpired:
		return true
	}
	return false
}

// AttachmentKind tags an attachment once at decode time instead of probing
// fields repeatedly.
type AttachmentKind int

const (
	AttachmentEmpty AttachmentKind = iota
	AttachmentText
	AttachmentQuery
)

// Attachment is one unit of message content: a query reference, plain text,
// or nothing usable.
type Attachment struct {
	AttachmentID string           `json:"attachment_id,omitempty"`
	Query        *QueryAttachment `json:"query,omitempty"`
	Text         *TextAttachment  `json:"text,omitempty"`
}

// Kind classifies the attachment. A query payload without an attachment id
// cannot be fetched and degrades to its text form, if any.
func (a Attachment) Kind() AttachmentKind {
	switch {
	case a.Query != nil && a.AttachmentID != "":
		return AttachmentQuery
	case a.Text != nil:
		return AttachmentText
	default:
		return AttachmentEmpty
	}
}

// QueryAttachment describes the generated query behind a data attachment.
type QueryAttachment struct {
	Description         string                `json:"description,omitempty"`
	Query               string                `json:"query,omitempty"`
	StatementID         string                `json:"statement_id,omitempty"`
	QueryResultMetadata *model.ResultMetadata `json:"query_result_metadata,omitempty"`
}

// TextAttachment is a plain text answer.
type TextAttachment struct {
	Content string `json:"content"`
}

// StatementResponse is the executed statement payload behind a data attachment.
type StatementResponse struct {
	StatementID string          `json:"statement_id,omitempty"`
	Manifest    *ResultManifest `json:"manifest,omitempty"`
	Result      *ResultData     `json:"result,omitempty"`
}

// ResultManifest carries the result schema.
type ResultManifest struct {
	Schema        *ResultSchema `json:"schema,omitempty"`
	TotalRowCount int64         `json:"total_row_count,omitempty"`
}

// ResultSchema lists the result columns in order.
type ResultSchema struct {
	Columns []model.Column `json:"columns,omitempty"`
}

// ResultData holds the row data; cells are string-or-null.
type ResultData struct {
	DataArray [][]*string `json:"data_array,omitempty"`
	RowCount  int64       `json:"row_count,omitempty"`
}

// Client is a thin JSON-over-HTTP wrapper for the Genie REST API.
type Client struct {
	host         string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

const defaultPollInterval = 2 * time.Second

// NewClient builds a client for one workspace host. The token authenticates
// every request; use ForUser to derive a client bound to another credential.
func NewClient(host, token string, logger *zap.Logger) *Client {
	return &Client{
		host:         host,
		token:        token,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// ForUser derives a client that authenticates with the given bearer token,
// sharing the underlying HTTP client.
func (c *Client) ForUser(token string) *Client {
	derived := *c
	derived.token = token
	return &derived
}

// StartConversationAndWait opens a new conversation with the question and
// polls until Genie finishes processing it.
func (c *Client) StartConversationAndWait(ctx context.Context, spaceID, content string) (*Message, error) {
	var started struct {
		ConversationID string `json:"conversation_id"`
		MessageID      string `json:"message_id"`
	}
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/start-conversation", spaceID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &started); err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}

	return c.waitForMessage(ctx, spaceID, started.ConversationID, started.MessageID)
}

// CreateMessageAndWait posts the question into an existing conversation and
// polls until Genie finishes processing it.
func (c *Client) CreateMessageAndWait(ctx context.Context, spaceID, conversationID, content string) (*Message, error) {
	var created Message
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages", spaceID, conversationID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &created); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	return c.waitForMessage(ctx, spaceID, conversationID, created.ID)
}

// GetMessage fetches a conversation message.
func (c *Client) GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages/%s", spaceID, conversationID, messageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// GetQueryResultByAttachment fetches the executed result set behind a data
// attachment.
func (c *Client) GetQueryResultByAttachment(ctx context.Context, spaceID, conversationID, messageID, attachmentID string) (*StatementResponse, error) {
	var payload struct {
		StatementResponse *StatementResponse `json:"statement_response"`
	}
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages/%s/attachments/%s/query-result",
		spaceID, conversationID, messageID, attachmentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("get query result: %w", err)
	}
	return payload.StatementResponse, nil
}

// waitForMessage polls GetMessage until processing reaches a terminal status.
// There is no overall deadline here; cancellation comes from ctx.
func (c *Client) waitForMessage(ctx context.Context, spaceID, conversationID, messageID string) (*Message, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		msg, err := c.GetMessage(ctx, spaceID, conversationID, messageID)
		if err != nil {
			return nil, err
		}
		if terminal(msg.Status) {
			if msg.Status != StatusCompleted {
				return msg, fmt.Errorf("message %s ended with status %s", messageID, msg.Status)
			}
			return msg, nil
		}

		c.logger.Debug("waiting for genie message",
			zap.String("conversation", conversationID),
			zap.String("message", messageID),
			zap.String("status", msg.Status))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call genie: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Response bodies can carry workspace details; log them here and keep
		// them out of anything that reaches the chat channel.
		c.logger.Error("genie request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return fmt.Errorf("genie returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
