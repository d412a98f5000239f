// Package activity holds the minimal Bot-Framework activity schema the
// bridge needs at its transport boundary.
package activity

import "encoding/json"

// Activity types the turn handler dispatches on.
const (
	TypeMessage            = "message"
	TypeConversationUpdate = "conversationUpdate"
	TypeEvent              = "event"
	TypeInvoke             = "invoke"
)

// Event/invoke names carrying authentication outcomes.
const (
	NameTokenResponse = "tokens/response"
	NameSignInVerify  = "signin/verifyState"
)

// Account identifies a chat participant.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation identifies the transport-side conversation thread.
type Conversation struct {
	ID string `json:"id"`
}

// Attachment carries card content on an outbound activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

// AdaptiveCardContentType is the attachment content type for adaptive cards.
const AdaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// Activity is one inbound or outbound chat event.
type Activity struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Text         string          `json:"text,omitempty"`
	From         Account         `json:"from"`
	Recipient    Account         `json:"recipient"`
	Conversation Conversation    `json:"conversation"`
	ServiceURL   string          `json:"serviceUrl,omitempty"`
	ReplyToID    string          `json:"replyToId,omitempty"`
	MembersAdded []Account       `json:"membersAdded,omitempty"`
	Name         string          `json:"name,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
}

// TokenResponse is the payload of a tokens/response event.
type TokenResponse struct {
	ConnectionName string `json:"connectionName,omitempty"`
	Token          string `json:"token,omitempty"`
	Expiration     string `json:"expiration,omitempty"`
}

// ParseTokenResponse decodes the activity value of a tokens/response event.
func ParseTokenResponse(raw json.RawMessage) (TokenResponse, error) {
	var tr TokenResponse
	if len(raw) == 0 {
		return tr, nil
	}
	err := json.Unmarshal(raw, &tr)
	return tr, err
}
