package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/model/activity"
	"github.com/vnguyen/genie-bridge/internal/model/card"
	model "github.com/vnguyen/genie-bridge/internal/model/genie"
	"github.com/vnguyen/genie-bridge/internal/model/space"
	"github.com/vnguyen/genie-bridge/internal/service/auth"
	"github.com/vnguyen/genie-bridge/internal/service/render"
	"github.com/vnguyen/genie-bridge/internal/service/session"
)

type sentUpdate struct {
	id  string
	msg card.Message
}

// fakeTurn records outbound traffic for one activity.
type fakeTurn struct {
	act       activity.Activity
	sends     []card.Message
	updates   []sentUpdate
	updateErr error
}

func (f *fakeTurn) Activity() activity.Activity { return f.act }

func (f *fakeTurn) Send(msg card.Message) (string, error) {
	f.sends = append(f.sends, msg)
	return fmt.Sprintf("sent-%d", len(f.sends)), nil
}

func (f *fakeTurn) Update(id string, msg card.Message) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, sentUpdate{id: id, msg: msg})
	return nil
}

// fakeGate hands out a fixed token unless primed with an error.
type fakeGate struct {
	token    string
	tokenErr error

	stored       map[string]string
	signedOut    []string
	loginVisible bool
}

func (g *fakeGate) Token(_ context.Context, _ string) (string, error) {
	if g.tokenErr != nil {
		return "", g.tokenErr
	}
	return g.token, nil
}

func (g *fakeGate) StoreToken(userID, token, _ string) {
	if g.stored == nil {
		g.stored = make(map[string]string)
	}
	g.stored[userID] = token
}

func (g *fakeGate) SignOut(_ context.Context, userID string) error {
	g.signedOut = append(g.signedOut, userID)
	return nil
}

func (g *fakeGate) LoginMessage() card.Message {
	g.loginVisible = true
	return card.SignIn("https://example.test/login")
}

// fakeQuerier records the question it was asked and plays back a canned result.
type fakeQuerier struct {
	result model.Result

	question       string
	spaceID        string
	conversationID string
	calls          int
}

func (q *fakeQuerier) Ask(_ context.Context, question, spaceID, conversationID string) model.Result {
	q.calls++
	q.question = question
	q.spaceID = spaceID
	q.conversationID = conversationID
	return q.result
}

type fixture struct {
	bot      *Bot
	sessions *session.Store
	gate     *fakeGate
	querier  *fakeQuerier
	tokens   []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: session.NewStore(),
		gate:     &fakeGate{token: "user-token"},
		querier:  &fakeQuerier{result: model.Result{Message: "answer", ConversationID: "conv-1"}},
	}
	spaces := space.NewStaticDirectory([]space.Space{
		{Name: "Sales", ID: "space-sales"},
		{Name: "Finance", ID: "space-finance"},
	})
	factory := func(token string) Querier {
		f.tokens = append(f.tokens, token)
		return f.querier
	}
	f.bot = New(spaces, f.sessions, f.gate, factory, render.New(zap.NewNop()), zap.NewNop())
	return f
}

func messageActivity(userID, text string) activity.Activity {
	return activity.Activity{
		Type: activity.TypeMessage,
		From: activity.Account{ID: userID},
		Text: text,
	}
}

func TestMessageWithoutUserIdentifier(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: messageActivity("", "hello")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != unidentifiedUserMessage {
		t.Fatalf("expected unidentified-user reply, got %+v", turn.sends)
	}
	if f.querier.calls != 0 {
		t.Fatal("no question should reach genie without a user")
	}
}

func TestMessageRequiresLogin(t *testing.T) {
	f := newFixture(t)
	f.gate.tokenErr = auth.ErrLoginRequired
	turn := &fakeTurn{act: messageActivity("u1", "@Sales what was revenue?")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if !f.gate.loginVisible {
		t.Fatal("expected the login card to be sent")
	}
	if len(turn.sends) != 1 || turn.sends[0].Card == nil {
		t.Fatalf("expected exactly the sign-in card, got %+v", turn.sends)
	}
	if f.querier.calls != 0 {
		t.Fatal("question must not be processed before login")
	}
}

func TestMessageAuthGateFailure(t *testing.T) {
	f := newFixture(t)
	f.gate.tokenErr = errors.New("token service unreachable")
	turn := &fakeTurn{act: messageActivity("u1", "hello")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != authErrorMessage {
		t.Fatalf("expected auth error reply, got %+v", turn.sends)
	}
}

func TestAnswerResolvesSpaceAndUpdatesPlaceholder(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: messageActivity("u1", "@Sales what was revenue?")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}

	// Switch confirmation first, then the waiting placeholder.
	if len(turn.sends) != 2 {
		t.Fatalf("expected 2 sends, got %d: %+v", len(turn.sends), turn.sends)
	}
	if turn.sends[0].Text != "Switched to space: Sales" {
		t.Fatalf("unexpected switch confirmation: %q", turn.sends[0].Text)
	}
	if turn.sends[1].Card == nil {
		t.Fatal("expected a waiting card as the second send")
	}

	if f.querier.spaceID != "space-sales" {
		t.Fatalf("question routed to space %q", f.querier.spaceID)
	}
	if f.querier.conversationID != "" {
		t.Fatalf("first question must start a new conversation, got %q", f.querier.conversationID)
	}
	if len(f.tokens) != 1 || f.tokens[0] != "user-token" {
		t.Fatalf("querier bound to tokens %v", f.tokens)
	}

	// The answer replaces the placeholder in place.
	if len(turn.updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(turn.updates))
	}
	if !strings.Contains(turn.updates[0].msg.Text, "answer") {
		t.Fatalf("unexpected answer text: %q", turn.updates[0].msg.Text)
	}

	sess := f.sessions.Get("u1")
	if sess.SpaceID != "space-sales" || sess.ConversationID != "conv-1" {
		t.Fatalf("session not updated: %+v", sess)
	}
}

func TestAnswerContinuesConversation(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	f.sessions.SetConversation("u1", "conv-7")
	f.querier.result = model.Result{Message: "more", ConversationID: "conv-7"}
	turn := &fakeTurn{act: messageActivity("u1", "and by month?")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if f.querier.conversationID != "conv-7" {
		t.Fatalf("expected continued conversation, got %q", f.querier.conversationID)
	}
	// No mention, no switch confirmation: the only send is the placeholder.
	if len(turn.sends) != 1 {
		t.Fatalf("expected 1 send, got %+v", turn.sends)
	}
}

func TestSpaceMentionResetsConversation(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	f.sessions.SetConversation("u1", "conv-7")
	turn := &fakeTurn{act: messageActivity("u1", "@Finance show spend")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if f.querier.spaceID != "space-finance" {
		t.Fatalf("question routed to space %q", f.querier.spaceID)
	}
	if f.querier.conversationID != "" {
		t.Fatal("switching spaces must start a fresh conversation")
	}
}

func TestUnknownSpaceMentionListsSpaces(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	f.sessions.SetConversation("u1", "conv-7")
	turn := &fakeTurn{act: messageActivity("u1", "@Marketing show leads")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 {
		t.Fatalf("expected only the not-found reply, got %+v", turn.sends)
	}
	reply := turn.sends[0].Text
	if !strings.Contains(reply, "@Sales") || !strings.Contains(reply, "@Finance") {
		t.Fatalf("reply should list registered spaces: %q", reply)
	}
	if f.querier.calls != 0 {
		t.Fatal("unresolved mention must not reach genie")
	}

	sess := f.sessions.Get("u1")
	if sess.SpaceID != "space-sales" || sess.ConversationID != "conv-7" {
		t.Fatalf("session must be untouched: %+v", sess)
	}
}

func TestFirstQuestionWithoutMention(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: messageActivity("u1", "what was revenue?")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || !strings.Contains(turn.sends[0].Text, "Genie space not found") {
		t.Fatalf("expected space prompt, got %+v", turn.sends)
	}
}

func TestSwitchCommand(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: messageActivity("u1", "switch to @Finance")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != "Switched to space: Finance" {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
	if f.querier.calls != 0 {
		t.Fatal("switch command must not query genie")
	}
	if sess := f.sessions.Get("u1"); sess.SpaceID != "space-finance" {
		t.Fatalf("space not switched: %+v", sess)
	}
}

func TestSwitchCommandUnknownSpace(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	turn := &fakeTurn{act: messageActivity("u1", "switch to @Nowhere")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || !strings.Contains(turn.sends[0].Text, "Genie space not found") {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
	if sess := f.sessions.Get("u1"); sess.SpaceID != "space-sales" {
		t.Fatalf("space must be unchanged: %+v", sess)
	}
}

func TestLogoutClearsSessionAndSignsOut(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	f.sessions.SetConversation("u1", "conv-7")
	turn := &fakeTurn{act: messageActivity("u1", "please logout now")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != loggingOutMessage {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
	if len(f.gate.signedOut) != 1 || f.gate.signedOut[0] != "u1" {
		t.Fatalf("expected gate sign-out for u1, got %v", f.gate.signedOut)
	}
	sess := f.sessions.Get("u1")
	if sess.SpaceID != "" || sess.ConversationID != "" || sess.Token != "" {
		t.Fatalf("session not cleared: %+v", sess)
	}
}

func TestGenericErrorStillAdvancesConversation(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	f.querier.result = model.Result{Err: model.ErrGeneric, ConversationID: "conv-new"}
	turn := &fakeTurn{act: messageActivity("u1", "what was revenue?")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.updates) != 1 || turn.updates[0].msg.Text != genericErrorMessage {
		t.Fatalf("expected generic error reply, got %+v", turn.updates)
	}
	if sess := f.sessions.Get("u1"); sess.ConversationID != "conv-new" {
		t.Fatalf("conversation id from failed call must be kept: %+v", sess)
	}
}

func TestDecodeErrorReply(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	f.querier.result = model.Result{Err: model.ErrMalformed}
	turn := &fakeTurn{act: messageActivity("u1", "what was revenue?")}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.updates) != 1 || turn.updates[0].msg.Text != decodeErrorMessage {
		t.Fatalf("expected decode error reply, got %+v", turn.updates)
	}
}

func TestDeliverFallsBackWhenUpdateUnsupported(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	turn := &fakeTurn{
		act:       messageActivity("u1", "what was revenue?"),
		updateErr: ErrUpdateNotSupported,
	}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	// Placeholder plus the answer re-sent as a fresh message.
	if len(turn.sends) != 2 {
		t.Fatalf("expected fallback send, got %+v", turn.sends)
	}
	if !strings.Contains(turn.sends[1].Text, "answer") {
		t.Fatalf("unexpected fallback text: %q", turn.sends[1].Text)
	}
}

func TestMembersAddedWelcome(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetSpace("u1", "space-sales")
	turn := &fakeTurn{act: activity.Activity{
		Type:         activity.TypeConversationUpdate,
		Recipient:    activity.Account{ID: "bot-id"},
		MembersAdded: []activity.Account{{ID: "bot-id"}, {ID: "u1"}},
	}}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 {
		t.Fatalf("the bot itself must not be welcomed: %+v", turn.sends)
	}
	if turn.sends[0].Text != welcomeVersion+" "+welcomeMessage {
		t.Fatalf("unexpected welcome: %q", turn.sends[0].Text)
	}
	if sess := f.sessions.Get("u1"); sess.SpaceID != "" {
		t.Fatalf("welcome must reset the session: %+v", sess)
	}
}

func TestTokenResponseEvent(t *testing.T) {
	f := newFixture(t)
	value, _ := json.Marshal(activity.TokenResponse{Token: "fresh-token", Expiration: "2026-01-01T00:00:00Z"})
	turn := &fakeTurn{act: activity.Activity{
		Type:  activity.TypeEvent,
		Name:  activity.NameTokenResponse,
		From:  activity.Account{ID: "u1"},
		Value: value,
	}}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != tokenLoginMessage {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
	if f.gate.stored["u1"] != "fresh-token" {
		t.Fatalf("token not stored in gate: %v", f.gate.stored)
	}
	if sess := f.sessions.Get("u1"); sess.Token != "fresh-token" {
		t.Fatalf("token not stored in session: %+v", sess)
	}
}

func TestTokenResponseEventWithoutToken(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: activity.Activity{
		Type: activity.TypeEvent,
		Name: activity.NameTokenResponse,
		From: activity.Account{ID: "u1"},
	}}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != authFailedMessage {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
}

func TestSignInVerify(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: activity.Activity{
		Type: activity.TypeInvoke,
		Name: activity.NameSignInVerify,
		From: activity.Account{ID: "u1"},
	}}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != verifyLoginMessage {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
	if sess := f.sessions.Get("u1"); sess.Token != "user-token" {
		t.Fatalf("token not stored in session: %+v", sess)
	}
}

func TestSignInVerifyWithoutToken(t *testing.T) {
	f := newFixture(t)
	f.gate.tokenErr = auth.ErrLoginRequired
	turn := &fakeTurn{act: activity.Activity{
		Type: activity.TypeInvoke,
		Name: activity.NameSignInVerify,
		From: activity.Account{ID: "u1"},
	}}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 1 || turn.sends[0].Text != authFailedMessage {
		t.Fatalf("unexpected reply: %+v", turn.sends)
	}
}

func TestUnhandledActivityTypeIsIgnored(t *testing.T) {
	f := newFixture(t)
	turn := &fakeTurn{act: activity.Activity{Type: "typing", From: activity.Account{ID: "u1"}}}

	if err := f.bot.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	if len(turn.sends) != 0 {
		t.Fatalf("typing activities should produce no reply: %+v", turn.sends)
	}
}
