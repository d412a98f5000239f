package handler

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/bot"
	"github.com/vnguyen/genie-bridge/internal/model/activity"
	"github.com/vnguyen/genie-bridge/internal/model/card"
)

// WSHandler serves a direct webchat transport over a websocket. Unlike the
// webhook connector it supports in-place message updates, so the waiting
// placeholder is replaced rather than followed by a second message.
type WSHandler struct {
	bot      *bot.Bot
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler builds the websocket handler.
func NewWSHandler(b *bot.Bot, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		bot:    b,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// wsInbound is one frame from the webchat client.
type wsInbound struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Text   string `json:"text,omitempty"`
}

// wsOutbound is one frame to the webchat client. ReplaceID names the earlier
// frame this one supersedes.
type wsOutbound struct {
	ID        string             `json:"id"`
	ReplaceID string             `json:"replaceId,omitempty"`
	Text      string             `json:"text,omitempty"`
	Card      *card.AdaptiveCard `json:"card,omitempty"`
}

// Handle upgrades the connection and processes frames sequentially, one turn
// at a time, which keeps per-user turn ordering.
func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	tcBase := &wsTurnContext{conn: conn, mu: &sync.Mutex{}}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		act := h.toActivity(in)
		tc := tcBase.withActivity(act)
		if err := h.bot.OnTurn(r.Context(), tc); err != nil {
			h.logger.Error("websocket turn failed", zap.Error(err), zap.String("user", in.UserID))
			return
		}
	}
}

// toActivity maps a webchat frame onto the activity schema the bot speaks.
func (h *WSHandler) toActivity(in wsInbound) activity.Activity {
	act := activity.Activity{
		ID:           uuid.NewString(),
		From:         activity.Account{ID: in.UserID, Name: in.Name},
		Recipient:    activity.Account{ID: "genie-bridge"},
		Conversation: activity.Conversation{ID: "ws-" + in.UserID},
	}
	switch in.Type {
	case "join":
		act.Type = activity.TypeConversationUpdate
		act.MembersAdded = []activity.Account{{ID: in.UserID, Name: in.Name}}
	default:
		act.Type = activity.TypeMessage
		act.Text = in.Text
	}
	return act
}

// wsTurnContext shares one write lock per connection across turns.
type wsTurnContext struct {
	conn *websocket.Conn
	mu   *sync.Mutex
	act  activity.Activity
}

func (t *wsTurnContext) withActivity(act activity.Activity) *wsTurnContext {
	return &wsTurnContext{conn: t.conn, mu: t.mu, act: act}
}

func (t *wsTurnContext) Activity() activity.Activity {
	return t.act
}

func (t *wsTurnContext) Send(msg card.Message) (string, error) {
	out := wsOutbound{ID: uuid.NewString(), Text: msg.Text, Card: msg.Card}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.WriteJSON(out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (t *wsTurnContext) Update(id string, msg card.Message) error {
	out := wsOutbound{ID: uuid.NewString(), ReplaceID: id, Text: msg.Text, Card: msg.Card}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(out)
}
