package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Davezu/chatbot/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore, username string, role models.Role) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "not-a-real-hash", "", role)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func newTestConversation(t *testing.T, s *SQLiteStore) (*models.Conversation, *models.User) {
	t.Helper()
	client := newTestUser(t, s, "client-"+uuid.NewString(), models.RoleClient)
	conv, err := s.CreateConversation(context.Background(), client.ID)
	if err != nil {
		t.Fatal(err)
	}
	return conv, client
}

func TestMessageIDsStrictlyIncrease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)
	other, _ := newTestConversation(t, s)

	var last int64
	for i := 0; i < 5; i++ {
		// Interleave two conversations: ids are global, not per log.
		target := conv.ID
		if i%2 == 1 {
			target = other.ID
		}
		msg, err := s.AppendMessage(ctx, target, models.SenderClient, "hello")
		if err != nil {
			t.Fatal(err)
		}
		if msg.ID <= last {
			t.Fatalf("id %d not greater than previous %d", msg.ID, last)
		}
		last = msg.ID
	}
}

func TestListMessagesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)

	var ids []int64
	senders := []models.SenderType{models.SenderBot, models.SenderClient, models.SenderClient, models.SenderAdmin}
	for i, sender := range senders {
		msg, err := s.AppendMessage(ctx, conv.ID, sender, "msg")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}

	all, err := s.ListMessagesSince(ctx, conv.ID, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatal("messages not in ascending id order")
		}
	}

	tail, err := s.ListMessagesSince(ctx, conv.ID, ids[1], false)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].ID != ids[2] {
		t.Fatalf("expected the 2 messages after id %d, got %d", ids[1], len(tail))
	}

	// A watermark beyond the newest id yields an empty, non-nil slice.
	empty, err := s.ListMessagesSince(ctx, conv.ID, ids[3]+100, false)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice, got %#v", empty)
	}

	clientOnly, err := s.ListMessagesSince(ctx, conv.ID, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(clientOnly) != 2 {
		t.Fatalf("expected 2 client messages, got %d", len(clientOnly))
	}
	for _, m := range clientOnly {
		if m.Sender != models.SenderClient {
			t.Fatalf("unexpected sender %q in client-only listing", m.Sender)
		}
	}
}

func TestAppendRejectsInvalidSender(t *testing.T) {
	s := newTestStore(t)
	conv, _ := newTestConversation(t, s)

	_, err := s.AppendMessage(context.Background(), conv.ID, "system", "nope")
	if !errors.Is(err, ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}
}

func TestAppendRejectsClosedConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)

	if _, err := s.CloseConversation(ctx, conv.ID, "bye"); err != nil {
		t.Fatal(err)
	}
	_, err := s.AppendMessage(ctx, conv.ID, models.SenderClient, "still there?")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestAssignAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)
	alice := newTestUser(t, s, "alice", models.RoleAdmin)
	bob := newTestUser(t, s, "bob", models.RoleAdmin)

	assigned, joined, err := s.AssignAdmin(ctx, conv.ID, alice.ID, "alice has joined")
	if err != nil {
		t.Fatal(err)
	}
	if !assigned || joined == nil {
		t.Fatal("first assign should win and return the joined message")
	}

	// The transition and the system message are one unit.
	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusHumanAssigned {
		t.Fatalf("expected human_assigned, got %s", got.Status)
	}
	if got.AdminID == nil || *got.AdminID != alice.ID {
		t.Fatal("admin_id not set to winner")
	}
	msgs, err := s.ListMessagesSince(ctx, conv.ID, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != joined.ID {
		t.Fatal("joined message not in the log")
	}

	// Repeat by the winner is a silent no-op.
	assigned, joined, err = s.AssignAdmin(ctx, conv.ID, alice.ID, "alice has joined")
	if err != nil || assigned || joined != nil {
		t.Fatalf("expected no-op for winner repeat, got assigned=%v msg=%v err=%v", assigned, joined, err)
	}

	// A different admin is rejected.
	_, _, err = s.AssignAdmin(ctx, conv.ID, bob.ID, "bob has joined")
	if !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestAssignAdminConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)

	const contenders = 8
	admins := make([]*models.User, contenders)
	for i := range admins {
		admins[i] = newTestUser(t, s, "admin-"+uuid.NewString(), models.RoleAdmin)
	}

	var wg sync.WaitGroup
	wins := make(chan int64, contenders)
	for _, admin := range admins {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assigned, _, err := s.AssignAdmin(ctx, conv.ID, id, "joined")
			if err != nil && !errors.Is(err, ErrAlreadyAssigned) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if assigned {
				wins <- id
			}
		}(admin.ID)
	}
	wg.Wait()
	close(wins)

	var winners []int64
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AdminID == nil || *got.AdminID != winners[0] {
		t.Fatal("stored admin_id does not match the winner")
	}
}

func TestAssignAdminClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)
	admin := newTestUser(t, s, "late-admin", models.RoleAdmin)

	if _, err := s.CloseConversation(ctx, conv.ID, "bye"); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.AssignAdmin(ctx, conv.ID, admin.ID, "joined")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestRequestHuman(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)
	admin := newTestUser(t, s, "picker", models.RoleAdmin)

	changed, status, err := s.RequestHuman(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || status != models.StatusHumanRequested {
		t.Fatalf("expected transition to human_requested, got changed=%v status=%s", changed, status)
	}

	// Repeating while waiting is a no-op.
	changed, status, err = s.RequestHuman(ctx, conv.ID)
	if err != nil || changed || status != models.StatusHumanRequested {
		t.Fatalf("expected idempotent no-op, got changed=%v status=%s err=%v", changed, status, err)
	}

	// Never downgrades an assigned conversation.
	if _, _, err := s.AssignAdmin(ctx, conv.ID, admin.ID, "joined"); err != nil {
		t.Fatal(err)
	}
	changed, status, err = s.RequestHuman(ctx, conv.ID)
	if err != nil || changed || status != models.StatusHumanAssigned {
		t.Fatalf("expected human_assigned kept, got changed=%v status=%s err=%v", changed, status, err)
	}
}

func TestRequestHumanClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := newTestConversation(t, s)

	if _, err := s.CloseConversation(ctx, conv.ID, "bye"); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.RequestHuman(ctx, conv.ID)
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestCloseConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Closing is reachable from every non-terminal status.
	for _, prep := range []func(uuid.UUID) error{
		func(uuid.UUID) error { return nil }, // bot
		func(id uuid.UUID) error { _, _, err := s.RequestHuman(ctx, id); return err },
	} {
		conv, _ := newTestConversation(t, s)
		if err := prep(conv.ID); err != nil {
			t.Fatal(err)
		}
		closing, err := s.CloseConversation(ctx, conv.ID, "closed, thanks")
		if err != nil {
			t.Fatal(err)
		}
		if closing.Sender != models.SenderBot || closing.Content != "closed, thanks" {
			t.Fatalf("unexpected closing message %+v", closing)
		}

		got, err := s.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != models.StatusClosed {
			t.Fatalf("expected closed, got %s", got.Status)
		}

		if _, err := s.CloseConversation(ctx, conv.ID, "again"); !errors.Is(err, ErrAlreadyClosed) {
			t.Fatalf("expected ErrAlreadyClosed on double close, got %v", err)
		}
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), uuid.New())
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestListConversationsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	waiting, _ := newTestConversation(t, s)
	if _, _, err := s.RequestHuman(ctx, waiting.ID); err != nil {
		t.Fatal(err)
	}
	newTestConversation(t, s) // stays in bot status

	status := models.StatusHumanRequested
	queue, err := s.ListConversations(ctx, &status)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != waiting.ID {
		t.Fatalf("expected only the waiting conversation, got %d", len(queue))
	}

	all, err := s.ListConversations(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(all))
	}
}

func TestEnsureSeedUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	guestID, err := s.EnsureSeedUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.EnsureSeedUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if guestID != again {
		t.Fatalf("seeding not idempotent: %d vs %d", guestID, again)
	}

	admin, err := s.GetUserByUsername(ctx, seedAdminUsername)
	if err != nil {
		t.Fatal(err)
	}
	if !admin.IsAdmin() {
		t.Fatal("seeded admin lacks admin role")
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(seedAdminPassword)) != nil {
		t.Fatal("seeded admin password hash does not verify")
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetUserByID(context.Background(), 9999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.GetUserByUsername(context.Background(), "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
