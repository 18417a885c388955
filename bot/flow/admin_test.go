package flow

import (
	"context"
	"testing"
	"time"

	"github.com/karwa/bannerbot/bot/session"
	"github.com/karwa/bannerbot/bot/storage"
)

func TestAdminRejectsNonOwner(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	acts, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "admin"), emit)
	if !containsText(*acts, "only available to the bot owner") {
		t.Fatalf("command: got %q", lastText(*acts))
	}

	acts2, emit2 := collect()
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAdminStats}), emit2)
	if !containsText(*acts2, "only available to the bot owner") {
		t.Fatalf("button: got %q", lastText(*acts2))
	}
	if len(dir.removed) != 0 || dir.addCalls != 0 {
		t.Fatal("non-owner must not reach admin operations")
	}
}

func TestAdminAddByNumericID(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAdd}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, textEvent(ownerID, "555"), emit2)
	if !containsText(*acts, "Add user 555 (ID 555)") {
		t.Fatalf("confirmation prompt: got %q", lastText(*acts))
	}

	acts2, emit3 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAddConfirm}), emit3)
	if dir.addCalls != 1 {
		t.Fatalf("addCalls = %d, want 1", dir.addCalls)
	}
	if !containsText(*acts2, "can now use the bot") {
		t.Fatalf("commit: got %q", lastText(*acts2))
	}
	if e.Sessions().InProgress(ownerID) {
		t.Fatal("admin session must be cleared after commit")
	}
}

func TestAdminAddByForwardedMessage(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAdd}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, Event{
		UserID:      ownerID,
		Kind:        KindText,
		Text:        "some forwarded text",
		ForwardID:   777,
		ForwardName: "Dana",
	}, emit2)

	if !containsText(*acts, "Add Dana (ID 777)") {
		t.Fatalf("forward resolution: got %q", lastText(*acts))
	}
}

func TestAdminAddInvalidInputReprompts(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAdd}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, textEvent(ownerID, "not-a-number"), emit2)
	if !containsText(*acts, "digits only") {
		t.Fatalf("want re-prompt, got %q", lastText(*acts))
	}

	// The step must not advance on invalid input.
	sess := e.Sessions().Get(ownerID)
	if sess.Step != session.StepAwaitingUserIdentifier {
		t.Fatalf("step = %s, want awaiting_user_identifier", sess.Step)
	}
}

func TestAdminDuplicateConfirmIsNoOp(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAdd}), emit)
	e.Handle(ctx, textEvent(ownerID, "555"), emit)
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAddConfirm}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAddConfirm}), emit2)

	if dir.addCalls != 1 {
		t.Fatalf("addCalls = %d, want 1 (no double insert)", dir.addCalls)
	}
	if !containsText(*acts, "expired or the action no longer applies") {
		t.Fatalf("second confirm: got %q", lastText(*acts))
	}
}

func TestAdminAddDuplicateUser(t *testing.T) {
	dir := &fakeDir{addErr: storage.ErrDuplicateUser}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAdd}), emit)
	e.Handle(ctx, textEvent(ownerID, "555"), emit)

	acts, emit2 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAddConfirm}), emit2)
	if !containsText(*acts, "already on the list") {
		t.Fatalf("duplicate: got %q", lastText(*acts))
	}
}

func TestAdminRemoveOwnerProtectedAtBothLayers(t *testing.T) {
	dir := &fakeDir{
		users:     []storage.User{{ID: 555, DisplayName: "Dana"}},
		removeErr: map[int64]error{ownerID: storage.ErrProtectedOwner},
	}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	// Pick layer: the owner id submitted directly is refused before any
	// confirmation is shown.
	acts, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminRemovePick, TargetID: ownerID}), emit)
	if !containsText(*acts, "owner cannot be removed") {
		t.Fatalf("pick layer: got %q", lastText(*acts))
	}

	// Execute layer: even a crafted confirm for the owner id is refused.
	acts2, emit2 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminRemoveConfirm, TargetID: ownerID}), emit2)
	if !containsText(*acts2, "owner cannot be removed") {
		t.Fatalf("execute layer: got %q", lastText(*acts2))
	}
	if len(dir.removed) != 0 {
		t.Fatal("owner must never be removed")
	}
}

func TestAdminRemoveFlow(t *testing.T) {
	dir := &fakeDir{users: []storage.User{{ID: 555, DisplayName: "Dana"}}}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	acts, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminRemove}), emit)
	if !containsText(*acts, "Select a user to remove") {
		t.Fatalf("list: got %q", lastText(*acts))
	}

	acts2, emit2 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminRemovePick, TargetID: 555}), emit2)
	if !containsText(*acts2, "Remove Dana (ID 555)") {
		t.Fatalf("confirm prompt: got %q", lastText(*acts2))
	}

	acts3, emit3 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminRemoveConfirm, TargetID: 555}), emit3)
	if len(dir.removed) != 1 || dir.removed[0] != 555 {
		t.Fatalf("removed = %v, want [555]", dir.removed)
	}
	if !containsText(*acts3, "User 555 removed") {
		t.Fatalf("commit: got %q", lastText(*acts3))
	}
}

func TestAdminRemovePickUnknownUser(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})

	acts, emit := collect()
	e.Handle(context.Background(), btnEvent(ownerID, Button{Action: BtnAdminRemovePick, TargetID: 777}), emit)
	if !containsText(*acts, "not on the list") {
		t.Fatalf("got %q", lastText(*acts))
	}
}

func TestAdminListUsersAndStats(t *testing.T) {
	dir := &fakeDir{
		users: []storage.User{
			{ID: 555, DisplayName: "Dana", AddedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
		stats: storage.Stats{
			TotalUsers:     2,
			TotalToday:     1,
			TotalAllTime:   9,
			MostActiveName: "Dana",
			MostActiveRuns: 5,
		},
	}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	acts, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminUsers, Page: 0}), emit)
	if !containsText(*acts, "Dana — 555") {
		t.Fatalf("list: got %q", lastText(*acts))
	}

	acts2, emit2 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminStats}), emit2)
	if !containsText(*acts2, "Generations all-time: 9") || !containsText(*acts2, "Most active: Dana (5 runs)") {
		t.Fatalf("stats: got %q", lastText(*acts2))
	}
}

func TestAdminAddEscapesMarkdownInName(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAdd}), emit)

	// A forwarded username like a_b carries a Markdown control character;
	// unescaped it would make Telegram reject the whole confirmation send.
	acts, emit2 := collect()
	e.Handle(ctx, Event{
		UserID:      ownerID,
		Kind:        KindText,
		Text:        "forwarded",
		ForwardID:   777,
		ForwardName: "a_b",
	}, emit2)
	if !containsText(*acts, `Add a\_b (ID 777)`) {
		t.Fatalf("confirmation prompt: got %q", lastText(*acts))
	}

	acts2, emit3 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminAddConfirm}), emit3)
	if !containsText(*acts2, `a\_b (ID 777) can now use the bot`) {
		t.Fatalf("commit: got %q", lastText(*acts2))
	}
}

func TestAdminListEscapesMarkdownInNames(t *testing.T) {
	dir := &fakeDir{
		users: []storage.User{
			{ID: 555, DisplayName: "dana*admin", AddedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
		stats: storage.Stats{
			TotalUsers:     2,
			TotalAllTime:   3,
			MostActiveName: "dana*admin",
			MostActiveRuns: 3,
		},
	}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	acts, emit := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminUsers, Page: 0}), emit)
	if !containsText(*acts, `dana\*admin — 555`) {
		t.Fatalf("list: got %q", lastText(*acts))
	}

	acts2, emit2 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminRemovePick, TargetID: 555}), emit2)
	if !containsText(*acts2, `Remove dana\*admin (ID 555)`) {
		t.Fatalf("remove prompt: got %q", lastText(*acts2))
	}

	acts3, emit3 := collect()
	e.Handle(ctx, btnEvent(ownerID, Button{Action: BtnAdminStats}), emit3)
	if !containsText(*acts3, `Most active: dana\*admin (3 runs)`) {
		t.Fatalf("stats: got %q", lastText(*acts3))
	}
}

func TestAdminListUsersClampsStalePage(t *testing.T) {
	dir := &fakeDir{
		users: []storage.User{
			{ID: 555, DisplayName: "Dana", AddedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	e := newTestEngine(t, dir, &fakeBackend{})

	// A Next button captured before removals can point past the last page;
	// the clamped page must still show the remaining users.
	acts, emit := collect()
	e.Handle(context.Background(), btnEvent(ownerID, Button{Action: BtnAdminUsers, Page: 5}), emit)
	if !containsText(*acts, "Dana — 555") {
		t.Fatalf("clamped list: got %q", lastText(*acts))
	}
	if !containsText(*acts, "page 1/1") {
		t.Fatalf("page label: got %q", lastText(*acts))
	}
}
