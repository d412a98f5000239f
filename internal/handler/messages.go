package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/bot"
	"github.com/vnguyen/genie-bridge/internal/model/activity"
	"github.com/vnguyen/genie-bridge/internal/model/card"
	"github.com/vnguyen/genie-bridge/internal/service/auth"
)

// Connector posts outbound activities back to the chat service that invoked
// the webhook, following the Bot-Framework connector conventions.
type Connector struct {
	credentials *auth.AppCredentials
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewConnector builds a connector. credentials may be nil when talking to a
// local emulator that skips service auth.
func NewConnector(credentials *auth.AppCredentials, logger *zap.Logger) *Connector {
	return &Connector{
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// TurnContext binds the connector to one inbound activity. ctx scopes the
// outbound deliveries to the webhook request.
func (c *Connector) TurnContext(ctx context.Context, act activity.Activity) bot.TurnContext {
	return &connectorTurnContext{connector: c, ctx: ctx, act: act}
}

type connectorTurnContext struct {
	connector *Connector
	ctx       context.Context
	act       activity.Activity
}

func (t *connectorTurnContext) Activity() activity.Activity {
	return t.act
}

func (t *connectorTurnContext) Send(msg card.Message) (string, error) {
	reply := t.buildReply(msg)
	path := fmt.Sprintf("%s/v3/conversations/%s/activities/%s",
		strings.TrimSuffix(t.act.ServiceURL, "/"), t.act.Conversation.ID, t.act.ID)
	return t.connector.post(t.ctx, http.MethodPost, path, reply)
}

func (t *connectorTurnContext) Update(id string, msg card.Message) error {
	reply := t.buildReply(msg)
	reply.ID = id
	path := fmt.Sprintf("%s/v3/conversations/%s/activities/%s",
		strings.TrimSuffix(t.act.ServiceURL, "/"), t.act.Conversation.ID, id)
	_, err := t.connector.post(t.ctx, http.MethodPut, path, reply)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusNotImplemented || se.code == http.StatusMethodNotAllowed) {
		// Some channels reject in-place edits; the bot sends a fresh message.
		return bot.ErrUpdateNotSupported
	}
	return err
}

// statusError carries the connector's HTTP status so callers can react to
// channel capabilities without parsing error strings.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("connector returned status %d", e.code)
}

func (t *connectorTurnContext) buildReply(msg card.Message) activity.Activity {
	reply := activity.Activity{
		Type:         activity.TypeMessage,
		From:         t.act.Recipient,
		Recipient:    t.act.From,
		Conversation: t.act.Conversation,
		ReplyToID:    t.act.ID,
		Text:         msg.Text,
	}
	if msg.Card != nil {
		reply.Attachments = []activity.Attachment{{
			ContentType: activity.AdaptiveCardContentType,
			Content:     msg.Card,
		}}
	}
	return reply
}

func (c *Connector) post(ctx context.Context, method, url string, reply activity.Activity) (string, error) {
	payload, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("marshal activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build connector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tok, err := c.credentials.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("app credentials: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deliver activity: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("connector delivery failed",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return "", &statusError{code: resp.StatusCode}
	}

	var out struct {
		ID string `json:"id"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.logger.Warn("connector response not decodable", zap.Error(err))
		}
	}
	return out.ID, nil
}

// MessagesHandler is the webhook entry point for chat activities.
type MessagesHandler struct {
	bot       *bot.Bot
	connector *Connector
	logger    *zap.Logger
}

// NewMessagesHandler builds the webhook handler.
func NewMessagesHandler(b *bot.Bot, connector *Connector, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{bot: b, connector: connector, logger: logger}
}

// HandlePost decodes one activity and runs it through the turn handler.
func (h *MessagesHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	var act activity.Activity
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		h.logger.Warn("undecodable inbound activity", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.bot.OnTurn(r.Context(), h.connector.TurnContext(r.Context(), act)); err != nil {
		h.logger.Error("turn failed", zap.Error(err), zap.String("activity", act.ID))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
