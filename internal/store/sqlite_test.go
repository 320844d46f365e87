package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ashureev/reborn/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "reborn.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore, phone string) *domain.User {
	t.Helper()
	user, _, err := s.GetOrCreateUserByPhone(context.Background(), phone)
	if err != nil {
		t.Fatalf("GetOrCreateUserByPhone failed: %v", err)
	}
	return user
}

func strPtr(s string) *string { return &s }

func TestGetOrCreateUserByPhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.GetOrCreateUserByPhone(ctx, "+8613800001234")
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create the user")
	}
	if !first.IsActive {
		t.Fatal("expected new user to be active")
	}

	second, created, err := s.GetOrCreateUserByPhone(ctx, "+8613800001234")
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if created {
		t.Fatal("expected second call to find the existing user")
	}
	if second.UserID != first.UserID {
		t.Fatalf("user IDs differ: %s vs %s", first.UserID, second.UserID)
	}

	profile, err := s.GetProfile(ctx, first.UserID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile == nil {
		t.Fatal("expected an empty profile to be created with the user")
	}
	if profile.CurrentStage != domain.StageNewUser {
		t.Fatalf("expected new_user stage, got %q", profile.CurrentStage)
	}
	if len(profile.KeyInsights) != 0 {
		t.Fatalf("expected no insights, got %v", profile.KeyInsights)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	user, err := s.GetUser(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
}

func TestUpdateProfileRecomputesStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "+8613800000001")

	updated, err := s.UpdateProfile(ctx, user.UserID, domain.ProfileUpdate{
		AntiVision: strPtr("  another decade of the same  "),
	})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.AntiVision != "another decade of the same" {
		t.Fatalf("expected trimmed anti_vision, got %q", updated.AntiVision)
	}
	if updated.CurrentStage != domain.StageExploring {
		t.Fatalf("expected exploring, got %q", updated.CurrentStage)
	}

	updated, err = s.UpdateProfile(ctx, user.UserID, domain.ProfileUpdate{
		Vision: strPtr("teach what I learn"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.CurrentStage != domain.StageEstablished {
		t.Fatalf("expected established, got %q", updated.CurrentStage)
	}

	loaded, err := s.GetProfile(ctx, user.UserID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if loaded.CurrentStage != domain.DeriveStage(loaded.Vision, loaded.AntiVision) {
		t.Fatalf("stored stage %q does not match derived stage", loaded.CurrentStage)
	}
	if loaded.AntiVision != "another decade of the same" {
		t.Fatalf("anti_vision not persisted: %q", loaded.AntiVision)
	}
}

func TestSaveInsightsKeepsLastFive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "+8613800000002")

	if err := s.SaveInsights(ctx, user.UserID, []string{"a", "b", "c", "d", "e", "f"}); err != nil {
		t.Fatalf("SaveInsights failed: %v", err)
	}

	profile, err := s.GetProfile(ctx, user.UserID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	want := []string{"b", "c", "d", "e", "f"}
	if !reflect.DeepEqual(profile.KeyInsights, want) {
		t.Fatalf("KeyInsights = %v, want %v", profile.KeyInsights, want)
	}
}

func TestConversationAppendAndReload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "+8613800000003")

	conv, err := s.LatestConversation(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LatestConversation failed: %v", err)
	}
	if len(conv.Messages) != 0 {
		t.Fatalf("expected empty conversation, got %d messages", len(conv.Messages))
	}

	turns := []domain.Message{
		{Role: domain.RoleUser, Content: "I feel stuck"},
		{Role: domain.RoleAssistant, Content: "What does stuck look like?"},
		{Role: domain.RoleUser, Content: "Same routine every day"},
	}
	for _, m := range turns {
		if err := s.AppendMessage(ctx, conv, m.Role, m.Content); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
	if !reflect.DeepEqual(conv.Messages, turns) {
		t.Fatalf("in-memory messages = %v, want %v", conv.Messages, turns)
	}

	reloaded, err := s.LatestConversation(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LatestConversation failed: %v", err)
	}
	if reloaded.ID != conv.ID {
		t.Fatalf("expected the same conversation, got %s vs %s", reloaded.ID, conv.ID)
	}
	if !reflect.DeepEqual(reloaded.Messages, turns) {
		t.Fatalf("reloaded messages = %v, want %v", reloaded.Messages, turns)
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "+8613800000004")

	conv, err := s.LatestConversation(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LatestConversation failed: %v", err)
	}
	if err := s.AppendMessage(ctx, conv, domain.Role("tool"), "x"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if len(conv.Messages) != 0 {
		t.Fatalf("rejected message leaked into memory: %v", conv.Messages)
	}
}

func TestClearConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "+8613800000005")

	conv, err := s.LatestConversation(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LatestConversation failed: %v", err)
	}
	if err := s.AppendMessage(ctx, conv, domain.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	deleted, err := s.ClearConversations(ctx, user.UserID)
	if err != nil {
		t.Fatalf("ClearConversations failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted conversation, got %d", deleted)
	}

	fresh, err := s.LatestConversation(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LatestConversation failed: %v", err)
	}
	if fresh.ID == conv.ID || len(fresh.Messages) != 0 {
		t.Fatalf("expected a new empty conversation, got %+v", fresh)
	}
}

func TestDeleteStaleConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "+8613800000006")

	conv, err := s.LatestConversation(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LatestConversation failed: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`, old, conv.ID); err != nil {
		t.Fatalf("backdate conversation: %v", err)
	}

	deleted, err := s.DeleteStaleConversations(ctx, 72*time.Hour)
	if err != nil {
		t.Fatalf("DeleteStaleConversations failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected nothing deleted within ttl, got %d", deleted)
	}

	deleted, err = s.DeleteStaleConversations(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteStaleConversations failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 stale conversation deleted, got %d", deleted)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
