// Package bot implements the per-turn state machine: authenticate, log out,
// switch space, or forward the question to Genie and render the answer.
package bot

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/model/activity"
	"github.com/vnguyen/genie-bridge/internal/model/card"
	model "github.com/vnguyen/genie-bridge/internal/model/genie"
	"github.com/vnguyen/genie-bridge/internal/model/space"
	"github.com/vnguyen/genie-bridge/internal/service/auth"
	"github.com/vnguyen/genie-bridge/internal/service/render"
	"github.com/vnguyen/genie-bridge/internal/service/session"
)

// User-facing replies. Internal diagnostics stay in the logs; none of these
// echo remote error bodies.
const (
	welcomeMessage    = "Welcome to the Data Query Bot!"
	welcomeVersion    = "v0.9"
	waitingMessage    = "Querying Genie for results..."
	switchMarker      = "switch to " + space.Marker
	loggingOutMessage = "Logging you out."

	unidentifiedUserMessage = "Unable to identify user. Please try again."
	genericErrorMessage     = "An error occurred while processing your request."
	decodeErrorMessage      = "Failed to decode response from the server."
	authFailedMessage       = "Authentication failed. Please try again."
	authErrorMessage        = "An error occurred while trying to authenticate. Please try again."
	tokenLoginMessage       = "(TokenResponse) Successfully logged in"
	verifyLoginMessage      = "(TeamsVerifyState) Successfully logged in"
)

// ErrUpdateNotSupported is returned by transports that cannot edit a sent
// message in place; the bot falls back to sending a new one.
var ErrUpdateNotSupported = errors.New("transport does not support message updates")

// TurnContext is the transport boundary for one inbound event.
type TurnContext interface {
	Activity() activity.Activity
	// Send delivers a message and returns its transport-assigned id.
	Send(msg card.Message) (string, error)
	// Update replaces a previously sent message in place.
	Update(id string, msg card.Message) error
}

// Querier answers one question against a Genie space.
type Querier interface {
	Ask(ctx context.Context, question, spaceID, conversationID string) model.Result
}

// QuerierFactory binds a querier to a user's bearer token.
type QuerierFactory func(token string) Querier

// Bot routes inbound activities through the session state machine.
type Bot struct {
	spaces     space.Directory
	sessions   *session.Store
	gate       auth.Gate
	newQuerier QuerierFactory
	renderer   *render.Renderer
	logger     *zap.Logger
}

// New wires the turn handler.
func New(spaces space.Directory, sessions *session.Store, gate auth.Gate, newQuerier QuerierFactory, renderer *render.Renderer, logger *zap.Logger) *Bot {
	return &Bot{
		spaces:     spaces,
		sessions:   sessions,
		gate:       gate,
		newQuerier: newQuerier,
		renderer:   renderer,
		logger:     logger,
	}
}

// OnTurn dispatches one inbound activity. Transport errors bubble up; domain
// failures become chat replies.
func (b *Bot) OnTurn(ctx context.Context, tc TurnContext) error {
	act := tc.Activity()
	switch act.Type {
	case activity.TypeMessage:
		return b.onMessage(ctx, tc)
	case activity.TypeConversationUpdate:
		return b.onMembersAdded(tc)
	case activity.TypeEvent:
		if act.Name == activity.NameTokenResponse {
			return b.onTokenResponse(tc)
		}
	case activity.TypeInvoke:
		if act.Name == activity.NameSignInVerify {
			return b.onSignInVerify(ctx, tc)
		}
	}
	return nil
}

func (b *Bot) onMessage(ctx context.Context, tc TurnContext) error {
	act := tc.Activity()
	if act.From.ID == "" {
		b.logger.Warn("no valid user identifier on inbound message")
		_, err := tc.Send(card.Message{Text: unidentifiedUserMessage})
		return err
	}

	userID := act.From.ID
	question := act.Text
	lowered := strings.ToLower(question)

	token, err := b.gate.Token(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrLoginRequired) {
			b.logger.Info("user needs to authenticate", zap.String("user", userID))
			_, err := tc.Send(b.gate.LoginMessage())
			return err
		}
		b.logger.Error("auth gate failed", zap.Error(err), zap.String("user", userID))
		_, err := tc.Send(card.Message{Text: authErrorMessage})
		return err
	}
	b.sessions.SetToken(userID, token)

	switch {
	case strings.Contains(lowered, "logout"):
		return b.logout(ctx, tc, userID)

	case strings.Contains(lowered, switchMarker):
		return b.switchSpace(tc, userID, question)

	default:
		return b.answer(ctx, tc, userID, question)
	}
}

func (b *Bot) logout(ctx context.Context, tc TurnContext, userID string) error {
	if _, err := tc.Send(card.Message{Text: loggingOutMessage}); err != nil {
		return err
	}
	b.sessions.Clear(userID)
	if err := b.gate.SignOut(ctx, userID); err != nil {
		b.logger.Error("sign-out failed", zap.Error(err), zap.String("user", userID))
	}
	return nil
}

func (b *Bot) switchSpace(tc TurnContext, userID, question string) error {
	spaceID, ok := b.spaces.Resolve(question)
	if !ok {
		_, err := tc.Send(card.Message{Text: space.NotFoundMessage(b.spaces)})
		return err
	}

	b.sessions.SetSpace(userID, spaceID)
	return b.confirmSwitch(tc, spaceID)
}

func (b *Bot) confirmSwitch(tc TurnContext, spaceID string) error {
	name, _ := b.spaces.NameOf(spaceID)
	_, err := tc.Send(card.Message{Text: "Switched to space: " + name})
	return err
}

// answer resolves the target space if needed, then forwards the question.
func (b *Bot) answer(ctx context.Context, tc TurnContext, userID, question string) error {
	sess := b.sessions.Get(userID)

	if sess.SpaceID == "" || strings.Contains(question, space.Marker) {
		spaceID, ok := b.spaces.Resolve(question)
		if !ok {
			_, err := tc.Send(card.Message{Text: space.NotFoundMessage(b.spaces)})
			return err
		}
		if spaceID != sess.SpaceID {
			b.sessions.SetSpace(userID, spaceID)
			sess = b.sessions.Get(userID)
			if err := b.confirmSwitch(tc, spaceID); err != nil {
				return err
			}
		}
	}

	waitingID, err := tc.Send(card.Waiting(waitingMessage))
	if err != nil {
		return err
	}

	result := b.newQuerier(sess.Token).Ask(ctx, question, sess.SpaceID, sess.ConversationID)

	// Even a failed call may have opened a conversation worth continuing.
	b.sessions.SetConversation(userID, result.ConversationID)

	var reply card.Message
	switch result.Err {
	case model.ErrNone:
		reply = b.renderer.Render(result)
	case model.ErrMalformed:
		reply = card.Message{Text: decodeErrorMessage}
	default:
		reply = card.Message{Text: genericErrorMessage}
	}

	return b.deliver(tc, waitingID, reply)
}

// deliver replaces the waiting placeholder when the transport allows edits,
// otherwise sends the reply as a new message.
func (b *Bot) deliver(tc TurnContext, placeholderID string, reply card.Message) error {
	err := tc.Update(placeholderID, reply)
	if errors.Is(err, ErrUpdateNotSupported) {
		_, err = tc.Send(reply)
	}
	return err
}

func (b *Bot) onMembersAdded(tc TurnContext) error {
	act := tc.Activity()
	for _, member := range act.MembersAdded {
		if member.ID == "" || member.ID == act.Recipient.ID {
			continue
		}
		b.logger.Debug("member added, initializing session", zap.String("user", member.ID))
		b.sessions.Init(member.ID)
		if _, err := tc.Send(card.Message{Text: welcomeVersion + " " + welcomeMessage}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) onTokenResponse(tc TurnContext) error {
	act := tc.Activity()
	if act.From.ID == "" {
		_, err := tc.Send(card.Message{Text: unidentifiedUserMessage})
		return err
	}

	tr, err := activity.ParseTokenResponse(act.Value)
	if err != nil || tr.Token == "" {
		b.logger.Error("token response event carried no token", zap.Error(err), zap.String("user", act.From.ID))
		_, err := tc.Send(card.Message{Text: authFailedMessage})
		return err
	}

	b.gate.StoreToken(act.From.ID, tr.Token, tr.Expiration)
	b.sessions.SetToken(act.From.ID, tr.Token)
	_, err = tc.Send(card.Message{Text: tokenLoginMessage})
	return err
}

// onSignInVerify completes the interactive flow: the token service should now
// hold a token for the user.
func (b *Bot) onSignInVerify(ctx context.Context, tc TurnContext) error {
	act := tc.Activity()
	if act.From.ID == "" {
		_, err := tc.Send(card.Message{Text: unidentifiedUserMessage})
		return err
	}

	token, err := b.gate.Token(ctx, act.From.ID)
	if err != nil {
		b.logger.Warn("no token available after sign-in verification", zap.Error(err), zap.String("user", act.From.ID))
		_, err := tc.Send(card.Message{Text: authFailedMessage})
		return err
	}

	b.sessions.SetToken(act.From.ID, token)
	_, err = tc.Send(card.Message{Text: verifyLoginMessage})
	return err
}
