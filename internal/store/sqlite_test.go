package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agent-mailbox/internal/domain"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	repo, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo.(*SQLiteStore)
}

func mustCreateAgent(t *testing.T, s *SQLiteStore, name string) *domain.Agent {
	t.Helper()
	a := &domain.Agent{
		ID:           uuid.New(),
		Name:         name,
		APIKeyHash:   "hash-" + name,
		APIKeyPrefix: "amb_test",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("CreateAgent(%s) failed: %v", name, err)
	}
	return a
}

func TestCreateAgentDuplicateName(t *testing.T) {
	s := newTestStore(t)
	mustCreateAgent(t, s, "alice")

	dup := &domain.Agent{ID: uuid.New(), Name: "alice", APIKeyHash: "other-hash", APIKeyPrefix: "amb_xxxx", CreatedAt: time.Now()}
	err := s.CreateAgent(context.Background(), dup)
	if !errors.Is(err, domain.ErrNameTaken) {
		t.Errorf("expected ErrNameTaken, got %v", err)
	}
}

func TestGetAgentByName(t *testing.T) {
	s := newTestStore(t)
	a := mustCreateAgent(t, s, "bob")

	got, err := s.GetAgentByName(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetAgentByName failed: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("got ID %s, want %s", got.ID, a.ID)
	}

	if _, err := s.GetAgentByName(context.Background(), "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateConnectionRequestInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	bob := mustCreateAgent(t, s, "bob")

	if _, err := s.CreateConnectionRequest(ctx, alice.ID, "alice", ""); !errors.Is(err, domain.ErrSelfConnection) {
		t.Errorf("expected ErrSelfConnection, got %v", err)
	}

	if _, err := s.CreateConnectionRequest(ctx, alice.ID, "ghost", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown target, got %v", err)
	}

	conn, err := s.CreateConnectionRequest(ctx, alice.ID, "bob", "hi")
	if err != nil {
		t.Fatalf("CreateConnectionRequest failed: %v", err)
	}
	if conn.Status != domain.ConnectionPending {
		t.Errorf("expected PENDING, got %s", conn.Status)
	}

	if _, err := s.CreateConnectionRequest(ctx, alice.ID, "bob", ""); !errors.Is(err, domain.ErrPendingExists) {
		t.Errorf("expected ErrPendingExists, got %v", err)
	}
	if _, err := s.CreateConnectionRequest(ctx, bob.ID, "alice", ""); !errors.Is(err, domain.ErrPendingExists) {
		t.Errorf("expected ErrPendingExists for reverse direction, got %v", err)
	}
}

func TestCreateConnectionRequestTooManyPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	for i := 0; i < domain.MaxLivePendingPerRequester; i++ {
		name := string(rune('b' + i))
		mustCreateAgent(t, s, name)
		if _, err := s.CreateConnectionRequest(ctx, alice.ID, name, ""); err != nil {
			t.Fatalf("CreateConnectionRequest(%s) failed: %v", name, err)
		}
	}
	mustCreateAgent(t, s, "overflow")
	if _, err := s.CreateConnectionRequest(ctx, alice.ID, "overflow", ""); !errors.Is(err, domain.ErrTooManyPending) {
		t.Errorf("expected ErrTooManyPending, got %v", err)
	}
}

func TestApproveConnection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	bob := mustCreateAgent(t, s, "bob")

	conn, err := s.CreateConnectionRequest(ctx, alice.ID, "bob", "")
	if err != nil {
		t.Fatalf("CreateConnectionRequest failed: %v", err)
	}

	if _, _, err := s.ApproveConnection(ctx, conn.VerificationCode, alice.ID); !errors.Is(err, domain.ErrNotTarget) {
		t.Errorf("expected ErrNotTarget when non-target approves, got %v", err)
	}

	approved, requester, err := s.ApproveConnection(ctx, conn.VerificationCode, bob.ID)
	if err != nil {
		t.Fatalf("ApproveConnection failed: %v", err)
	}
	if approved.Status != domain.ConnectionActive {
		t.Errorf("expected ACTIVE, got %s", approved.Status)
	}
	if requester.ID != alice.ID {
		t.Errorf("expected requester %s, got %s", alice.ID, requester.ID)
	}

	active, err := s.HasActiveConnection(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("HasActiveConnection failed: %v", err)
	}
	if !active {
		t.Error("expected an active connection between alice and bob")
	}

	if _, _, err := s.ApproveConnection(ctx, conn.VerificationCode, bob.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound re-approving a consumed code, got %v", err)
	}
}

func TestApproveConnectionExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	bob := mustCreateAgent(t, s, "bob")

	conn, err := s.CreateConnectionRequest(ctx, alice.ID, "bob", "")
	if err != nil {
		t.Fatalf("CreateConnectionRequest failed: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE connections SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute).Unix(), conn.ID.String()); err != nil {
		t.Fatalf("failed to backdate expiry: %v", err)
	}

	if _, _, err := s.ApproveConnection(ctx, conn.VerificationCode, bob.ID); !errors.Is(err, domain.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestFindOrCreateSessionCaseFolding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	bob := mustCreateAgent(t, s, "bob")

	first, err := s.FindOrCreateSession(ctx, "Project Status", alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("FindOrCreateSession failed: %v", err)
	}

	second, err := s.FindOrCreateSession(ctx, "project status", bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("FindOrCreateSession failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same session for case-folded subject, got %s and %s", first.ID, second.ID)
	}

	third, err := s.FindOrCreateSession(ctx, "unrelated subject", alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("FindOrCreateSession failed: %v", err)
	}
	if third.ID == first.ID {
		t.Error("expected a distinct session for a distinct subject")
	}
}

func TestSendMessageAndInbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	bob := mustCreateAgent(t, s, "bob")

	session, err := s.FindOrCreateSession(ctx, "status", alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("FindOrCreateSession failed: %v", err)
	}

	if _, err := s.SendMessage(ctx, session.ID, alice.ID, "ciphertext-1", "", ""); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := s.SendMessage(ctx, session.ID, alice.ID, "ciphertext-2", "", ""); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	inbox, err := s.ListInbox(ctx, bob.ID, true)
	if err != nil {
		t.Fatalf("ListInbox failed: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected 1 inbox session, got %d", len(inbox))
	}
	if inbox[0].UnreadCount != 2 {
		t.Errorf("expected 2 unread, got %d", inbox[0].UnreadCount)
	}
	if inbox[0].OtherName != "alice" {
		t.Errorf("expected other name alice, got %s", inbox[0].OtherName)
	}

	history, err := s.SessionHistory(ctx, session.ID, bob.ID, 10)
	if err != nil {
		t.Fatalf("SessionHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if !history[0].IsRead || !history[1].IsRead {
		t.Error("expected both messages marked read after history fetch")
	}

	inboxAfterRead, err := s.ListInbox(ctx, bob.ID, true)
	if err != nil {
		t.Fatalf("ListInbox failed: %v", err)
	}
	if len(inboxAfterRead) != 0 {
		t.Errorf("expected no unread-only sessions after reading, got %d", len(inboxAfterRead))
	}
}

func TestSessionHistoryRejectsNonParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	bob := mustCreateAgent(t, s, "bob")
	eve := mustCreateAgent(t, s, "eve")

	session, err := s.FindOrCreateSession(ctx, "status", alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("FindOrCreateSession failed: %v", err)
	}

	if _, err := s.SessionHistory(ctx, session.ID, eve.ID, 10); !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestExpirePendingConnections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateAgent(t, s, "alice")
	mustCreateAgent(t, s, "bob")

	conn, err := s.CreateConnectionRequest(ctx, alice.ID, "bob", "")
	if err != nil {
		t.Fatalf("CreateConnectionRequest failed: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE connections SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-2*time.Hour).Unix(), conn.ID.String()); err != nil {
		t.Fatalf("failed to backdate expiry: %v", err)
	}

	n, err := s.ExpirePendingConnections(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ExpirePendingConnections failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row purged, got %d", n)
	}
}
