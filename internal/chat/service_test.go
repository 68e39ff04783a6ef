package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Davezu/chatbot/internal/bot"
	"github.com/Davezu/chatbot/internal/models"
	"github.com/Davezu/chatbot/internal/store"
)

type testEnv struct {
	svc    *Service
	store  store.DataStore
	client *models.User
	alice  *models.User
	bob    *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	ds, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ds.Close)

	client, err := ds.CreateUser(ctx, "visitor", "hash", "", models.RoleClient)
	if err != nil {
		t.Fatal(err)
	}
	alice, err := ds.CreateUser(ctx, "alice", "hash", "", models.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := ds.CreateUser(ctx, "bob", "hash", "", models.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		svc:    NewService(ds, bot.NewKeywordResponder(), zerolog.Nop()),
		store:  ds,
		client: client,
		alice:  alice,
		bob:    bob,
	}
}

func (e *testEnv) start(t *testing.T) uuid.UUID {
	t.Helper()
	conv, msgs, err := e.svc.StartConversation(context.Background(), e.client.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != WelcomeText {
		t.Fatal("expected the welcome message on start")
	}
	if conv.Status != models.StatusBot {
		t.Fatalf("expected bot status, got %s", conv.Status)
	}
	return conv.ID
}

func (e *testEnv) allMessages(t *testing.T, id uuid.UUID) []models.Message {
	t.Helper()
	msgs, err := e.svc.MessagesSince(context.Background(), id, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestKnownQuestionGetsBotAnswer(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)

	if _, err := e.svc.SendClientMessage(context.Background(), id, "how much does a coach cost?"); err != nil {
		t.Fatal(err)
	}

	msgs := e.allMessages(t, id)
	if len(msgs) != 3 { // welcome, client, bot answer
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Sender != models.SenderBot || last.Content == fallbackText {
		t.Fatalf("expected a confident bot answer, got %q from %s", last.Content, last.Sender)
	}
}

func TestUnknownQuestionGetsEscalationOffer(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)

	if _, err := e.svc.SendClientMessage(context.Background(), id, "do you deliver pizza?"); err != nil {
		t.Fatal(err)
	}

	msgs := e.allMessages(t, id)
	last := msgs[len(msgs)-1]
	if last.Content != fallbackText {
		t.Fatalf("expected the escalation offer, got %q", last.Content)
	}
	if !strings.Contains(last.Content, `data-action="request-human"`) {
		t.Fatal("escalation offer is missing the request-human affordance")
	}
}

func TestClientTextIsEscaped(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)

	msg, err := e.svc.SendClientMessage(context.Background(), id, `<b>hi</b>`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(msg.Content, "<b>") {
		t.Fatalf("client markup not escaped: %q", msg.Content)
	}
}

func TestRequestHuman(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)
	ctx := context.Background()

	status, err := e.svc.RequestHuman(ctx, id, "my bus never arrived")
	if err != nil {
		t.Fatal(err)
	}
	if status != models.StatusHumanRequested {
		t.Fatalf("expected human_requested, got %s", status)
	}

	msgs := e.allMessages(t, id)
	// welcome, problem description, connecting notice
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].Sender != models.SenderClient || msgs[2].Content != connectingText {
		t.Fatal("problem text and connecting notice not recorded in order")
	}

	// Repeating the request stays in human_requested and only re-posts
	// the connecting notice.
	status, err = e.svc.RequestHuman(ctx, id, "")
	if err != nil || status != models.StatusHumanRequested {
		t.Fatalf("expected idempotent escalation, got status=%s err=%v", status, err)
	}
}

func TestFirstResponderWins(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)
	ctx := context.Background()

	msg, system, err := e.svc.SendAdminMessage(ctx, id, e.alice.ID, "hi, how can I help?")
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || system == nil {
		t.Fatal("expected both the admin message and the joined notice")
	}
	if !IsJoinNotice(system.Content) || !strings.Contains(system.Content, "alice") {
		t.Fatalf("unexpected joined notice %q", system.Content)
	}

	// The loser of the race is told the conversation is taken.
	_, _, err = e.svc.SendAdminMessage(ctx, id, e.bob.ID, "I can help too")
	if !errors.Is(err, ErrNotYourConversation) {
		t.Fatalf("expected ErrNotYourConversation, got %v", err)
	}

	// The winner keeps writing without a second joined notice.
	_, system, err = e.svc.SendAdminMessage(ctx, id, e.alice.ID, "still here")
	if err != nil || system != nil {
		t.Fatalf("expected plain follow-up, got system=%v err=%v", system, err)
	}
}

func TestBotStaysOutOnceAssigned(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)
	ctx := context.Background()

	if _, err := e.svc.Assign(ctx, id, e.alice.ID); err != nil {
		t.Fatal(err)
	}
	before := len(e.allMessages(t, id))

	if _, err := e.svc.SendClientMessage(ctx, id, "what are your prices?"); err != nil {
		t.Fatal(err)
	}

	msgs := e.allMessages(t, id)
	if len(msgs) != before+1 {
		t.Fatalf("expected only the client message to land, got %d new", len(msgs)-before)
	}
	if msgs[len(msgs)-1].Sender != models.SenderClient {
		t.Fatal("last message should be the client's")
	}
}

func TestAssignIdempotentForSameAdmin(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)
	ctx := context.Background()

	assigned, err := e.svc.Assign(ctx, id, e.alice.ID)
	if err != nil || !assigned {
		t.Fatalf("first assign should win, got assigned=%v err=%v", assigned, err)
	}
	assigned, err = e.svc.Assign(ctx, id, e.alice.ID)
	if err != nil || assigned {
		t.Fatalf("repeat assign should be a no-op, got assigned=%v err=%v", assigned, err)
	}
	_, err = e.svc.Assign(ctx, id, e.bob.ID)
	if !errors.Is(err, store.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned for the other admin, got %v", err)
	}
}

func TestEscalationSkipsNoticeWhenAssigned(t *testing.T) {
	e := newTestEnv(t)
	id := e.start(t)
	ctx := context.Background()

	if _, err := e.svc.Assign(ctx, id, e.alice.ID); err != nil {
		t.Fatal(err)
	}
	before := len(e.allMessages(t, id))

	status, err := e.svc.RequestHuman(ctx, id, "")
	if err != nil {
		t.Fatal(err)
	}
	if status != models.StatusHumanAssigned {
		t.Fatalf("expected human_assigned kept, got %s", status)
	}
	if got := len(e.allMessages(t, id)); got != before {
		t.Fatalf("no message should be appended, got %d new", got-before)
	}
}

func TestCloseRules(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Unassigned conversations may be closed by any admin, with the
	// default wording when none is given.
	id := e.start(t)
	closing, err := e.svc.Close(ctx, id, e.bob.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if closing.Content != DefaultClosingText {
		t.Fatalf("expected default closing text, got %q", closing.Content)
	}

	// An owned conversation is only closable by its owner.
	id = e.start(t)
	if _, err := e.svc.Assign(ctx, id, e.alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Close(ctx, id, e.bob.ID, "bye"); !errors.Is(err, ErrNotYourConversation) {
		t.Fatalf("expected ErrNotYourConversation, got %v", err)
	}
	if _, err := e.svc.Close(ctx, id, e.alice.ID, "bye"); err != nil {
		t.Fatal(err)
	}

	// Everything bounces off a closed conversation.
	if _, err := e.svc.SendClientMessage(ctx, id, "hello?"); !errors.Is(err, store.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	if _, _, err := e.svc.SendAdminMessage(ctx, id, e.alice.ID, "hello?"); !errors.Is(err, store.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestVisibleToClient(t *testing.T) {
	joined := JoinedText("alice")
	msgs := []models.Message{
		{ID: 1, Sender: models.SenderBot, Content: WelcomeText},
		{ID: 2, Sender: models.SenderClient, Content: "help"},
		{ID: 3, Sender: models.SenderBot, Content: joined},
		{ID: 4, Sender: models.SenderAdmin, Content: "hi"},
	}

	// Before assignment everything is visible.
	if got := VisibleToClient(models.StatusBot, msgs); len(got) != 4 {
		t.Fatalf("expected all 4 messages visible, got %d", len(got))
	}

	// After assignment bot chatter is hidden, join notices are kept.
	got := VisibleToClient(models.StatusHumanAssigned, msgs)
	if len(got) != 3 {
		t.Fatalf("expected 3 visible messages, got %d", len(got))
	}
	for _, m := range got {
		if m.Sender == models.SenderBot && !IsJoinNotice(m.Content) {
			t.Fatalf("plain bot message %d leaked through the filter", m.ID)
		}
	}
}
