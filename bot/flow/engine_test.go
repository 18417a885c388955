package flow

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/karwa/bannerbot/bot/genapi"
	"github.com/karwa/bannerbot/bot/session"
	"github.com/karwa/bannerbot/bot/storage"
)

const (
	ownerID = int64(1000)
	userID  = int64(42)
)

type fakeDir struct {
	allowed map[int64]bool
	// quotas is consumed front to back so a test can script the entry
	// check and the consumption re-check separately.
	quotas     []storage.Quota
	quotaCalls int

	recorded  [][3]string
	addCalls  int
	addErr    error
	removeErr map[int64]error
	removed   []int64
	users     []storage.User
	stats     storage.Stats
}

func (d *fakeDir) IsUserAllowed(_ context.Context, id int64) (bool, error) {
	return d.allowed[id], nil
}

func (d *fakeDir) CanUserGenerate(_ context.Context, id int64) (storage.Quota, error) {
	d.quotaCalls++
	if len(d.quotas) == 0 {
		return storage.Quota{Allowed: true, Limit: 1}, nil
	}
	q := d.quotas[0]
	if len(d.quotas) > 1 {
		d.quotas = d.quotas[1:]
	}
	return q, nil
}

func (d *fakeDir) RecordGeneration(_ context.Context, id int64, workflow, outputType, prompt string) error {
	d.recorded = append(d.recorded, [3]string{workflow, outputType, prompt})
	return nil
}

func (d *fakeDir) AddUser(_ context.Context, id int64, name string, by int64) error {
	d.addCalls++
	if d.addErr != nil {
		return d.addErr
	}
	return nil
}

func (d *fakeDir) RemoveUser(_ context.Context, id int64) error {
	if err := d.removeErr[id]; err != nil {
		return err
	}
	d.removed = append(d.removed, id)
	return nil
}

func (d *fakeDir) ListUsers(_ context.Context, page, size int) ([]storage.User, int, error) {
	lo := page * size
	if lo >= len(d.users) {
		return nil, len(d.users), nil
	}
	hi := lo + size
	if hi > len(d.users) {
		hi = len(d.users)
	}
	return d.users[lo:hi], len(d.users), nil
}

func (d *fakeDir) GetUser(_ context.Context, id int64) (storage.User, error) {
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrUnknownUser
}

func (d *fakeDir) UsageStats(_ context.Context) (storage.Stats, error) {
	return d.stats, nil
}

type fakeBackend struct {
	lastReq genapi.Request
	img     []byte
	err     error
	calls   int
}

func (b *fakeBackend) Generate(_ context.Context, req genapi.Request) ([]byte, error) {
	b.calls++
	b.lastReq = req
	if b.err != nil {
		return nil, b.err
	}
	if b.img == nil {
		return []byte{1, 2, 3}, nil
	}
	return b.img, nil
}

func newTestEngine(t *testing.T, dir *fakeDir, backend *fakeBackend) *Engine {
	t.Helper()
	if dir.allowed == nil {
		dir.allowed = map[int64]bool{userID: true, ownerID: true}
	}
	return NewEngine(Options{
		Sessions: session.NewStore(WithTestRelease()),
		Dir:      dir,
		Backend:  backend,
		OwnerID:  ownerID,
		PageSize: 10,
		TempDir:  t.TempDir(),
	})
}

// WithTestRelease swallows release errors so tests can use fake paths.
func WithTestRelease() session.Option {
	return session.WithReleaseFunc(func(path string) error {
		_ = os.Remove(path)
		return nil
	})
}

func collect() (*[]Action, Emit) {
	var acts []Action
	return &acts, func(a Action) { acts = append(acts, a) }
}

func lastText(acts []Action) string {
	if len(acts) == 0 {
		return ""
	}
	return acts[len(acts)-1].Text
}

func containsText(acts []Action, substr string) bool {
	for _, a := range acts {
		if strings.Contains(a.Text, substr) {
			return true
		}
	}
	return false
}

func cmdEvent(id int64, cmd string) Event {
	return Event{UserID: id, Kind: KindCommand, Command: cmd}
}

func btnEvent(id int64, b Button) Event {
	return Event{UserID: id, Kind: KindButton, Button: b}
}

func textEvent(id int64, text string) Event {
	return Event{UserID: id, Kind: KindText, Text: text}
}

func TestEntryDeniedForUnknownUser(t *testing.T) {
	dir := &fakeDir{allowed: map[int64]bool{}}
	e := newTestEngine(t, dir, &fakeBackend{})
	acts, emit := collect()

	e.Handle(context.Background(), cmdEvent(userID, "ascii"), emit)

	if !containsText(*acts, "don't have access") {
		t.Fatalf("want access denied, got %q", lastText(*acts))
	}
	if dir.quotaCalls != 0 {
		t.Fatal("quota must not be checked before authorization passes")
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("denied user must not get a session")
	}
}

func TestEntryQuotaExhaustedCreatesNoSession(t *testing.T) {
	dir := &fakeDir{quotas: []storage.Quota{{Allowed: false, Used: 1, Limit: 1}}}
	e := newTestEngine(t, dir, &fakeBackend{})
	acts, emit := collect()

	e.Handle(context.Background(), cmdEvent(userID, "generate"), emit)

	if !containsText(*acts, "Quota resets in") {
		t.Fatalf("want quota message, got %q", lastText(*acts))
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("quota-exhausted user must not get a session")
	}
}

func TestAsciiRoundTripBanner(t *testing.T) {
	dir := &fakeDir{}
	backend := &fakeBackend{}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "ascii"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, textEvent(userID, "HELLO"), emit2)

	if backend.lastReq.Kind != genapi.KindASCII {
		t.Errorf("kind = %s, want ascii", backend.lastReq.Kind)
	}
	if backend.lastReq.AspectRatio != genapi.RatioBanner3x1 {
		t.Errorf("ratio = %q, want 3:1", backend.lastReq.AspectRatio)
	}
	if backend.lastReq.Prompt != "HELLO" {
		t.Errorf("prompt = %q", backend.lastReq.Prompt)
	}

	if len(dir.recorded) != 1 {
		t.Fatalf("recorded %d generations, want 1", len(dir.recorded))
	}
	if dir.recorded[0][1] != "banner" {
		t.Errorf("output type = %q, want banner", dir.recorded[0][1])
	}

	var photo *Action
	for i := range *acts {
		if (*acts)[i].PhotoPath != "" {
			photo = &(*acts)[i]
		}
	}
	if photo == nil {
		t.Fatal("no photo action emitted")
	}
	if photo.Type != SendNewMessage {
		t.Error("photo result must be a new message, not a replace")
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("session must be cleared after success")
	}
}

func TestSquareRoundTrip(t *testing.T) {
	dir := &fakeDir{}
	backend := &fakeBackend{}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "generate"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}), emit)
	e.Handle(ctx, textEvent(userID, "a red fox"), emit)

	if backend.lastReq.AspectRatio != genapi.RatioSquare1x1 {
		t.Errorf("ratio = %q, want 1:1", backend.lastReq.AspectRatio)
	}
	if len(dir.recorded) != 1 || dir.recorded[0][1] != "profile" {
		t.Errorf("recorded = %v, want one profile entry", dir.recorded)
	}
}

func TestQuotaRecheckedAtConsumption(t *testing.T) {
	// Entry check passes, consumption re-check fails: simulates a day
	// boundary crossed during an idle gap.
	dir := &fakeDir{quotas: []storage.Quota{
		{Allowed: true, Limit: 1},
		{Allowed: false, Used: 1, Limit: 1},
	}}
	backend := &fakeBackend{}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "ascii"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, textEvent(userID, "HELLO"), emit2)

	if backend.calls != 0 {
		t.Fatal("backend must not be called when the re-check denies")
	}
	if !containsText(*acts, "Quota resets in") {
		t.Fatalf("want quota message, got %q", lastText(*acts))
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("session must be cleared on quota denial")
	}
	if dir.quotaCalls != 2 {
		t.Fatalf("quotaCalls = %d, want entry check plus re-check", dir.quotaCalls)
	}
}

func TestTextDuringAwaitingImageIsStale(t *testing.T) {
	dir := &fakeDir{}
	backend := &fakeBackend{}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "enhance"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, textEvent(userID, "not a photo"), emit2)

	if backend.calls != 0 {
		t.Fatal("text during awaiting_image must not reach the backend")
	}
	if !containsText(*acts, "expired or the action no longer applies") {
		t.Fatalf("want stale message, got %q", lastText(*acts))
	}

	// The session itself must be untouched.
	sess := e.Sessions().Get(userID)
	if sess.Workflow != session.WorkflowImageEnhance || sess.Step != session.StepAwaitingImage {
		t.Fatalf("session mutated by stale event: %+v", sess)
	}
}

func TestStaleAspectButtonDoesNotMutate(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	acts, emit := collect()
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}), emit)

	if !containsText(*acts, "expired or the action no longer applies") {
		t.Fatalf("want stale message, got %q", lastText(*acts))
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("stale aspect press must not create a session")
	}
}

func TestGenerationFailureCreditsMessageAndCleanup(t *testing.T) {
	dir := &fakeDir{}
	backend := &fakeBackend{err: &genapi.Error{Reason: genapi.ReasonInsufficientCredits, HTTPCode: 402}}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "generate"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, textEvent(userID, "a fox"), emit2)

	if !containsText(*acts, "ran out of credits") {
		t.Fatalf("want credits message, got %q", lastText(*acts))
	}
	if len(dir.recorded) != 0 {
		t.Fatal("failed generation must not be recorded")
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("session must be cleared after failure")
	}
}

func TestCancelIdempotent(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "ascii"), emit)

	acts1, emit1 := collect()
	e.Handle(ctx, cmdEvent(userID, "cancel"), emit1)
	if !containsText(*acts1, "cancelled") {
		t.Fatalf("first cancel: got %q", lastText(*acts1))
	}

	acts2, emit2 := collect()
	e.Handle(ctx, cmdEvent(userID, "cancel"), emit2)
	if !containsText(*acts2, "Nothing to cancel") {
		t.Fatalf("second cancel: got %q", lastText(*acts2))
	}

	acts3, emit3 := collect()
	e.Handle(ctx, cmdEvent(99, "cancel"), emit3)
	if !containsText(*acts3, "Nothing to cancel") {
		t.Fatalf("cancel with no session ever: got %q", lastText(*acts3))
	}
}

func TestCancelReleasesUploadedImage(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	upload, err := os.CreateTemp(t.TempDir(), "upload-*.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_ = upload.Close()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "enhance"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}), emit)
	e.Handle(ctx, Event{
		UserID: userID,
		Kind:   KindPhoto,
		Photo:  func(context.Context) (string, error) { return upload.Name(), nil },
	}, emit)

	sess := e.Sessions().Get(userID)
	if sess.ImagePath != upload.Name() || sess.Step != session.StepAwaitingPromptType {
		t.Fatalf("photo not stored: %+v", sess)
	}

	e.Handle(ctx, cmdEvent(userID, "cancel"), emit)

	if _, err := os.Stat(upload.Name()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("uploaded file must be removed on cancel")
	}
	if got := e.Sessions().Get(userID); got.Active() {
		t.Fatalf("next Get must return a fresh session, got %+v", got)
	}
}

func TestPhotoDownloadFailureClearsSession(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "enhance"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}), emit)

	acts, emit2 := collect()
	e.Handle(ctx, Event{
		UserID: userID,
		Kind:   KindPhoto,
		Photo:  func(context.Context) (string, error) { return "", errors.New("timeout") },
	}, emit2)

	if !containsText(*acts, "couldn't download") {
		t.Fatalf("want download failure message, got %q", lastText(*acts))
	}
	if e.Sessions().InProgress(userID) {
		t.Fatal("session must be cleared after download failure")
	}
}

func TestEnhanceAutoPromptRunsBackend(t *testing.T) {
	dir := &fakeDir{}
	backend := &fakeBackend{}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	upload, err := os.CreateTemp(t.TempDir(), "upload-*.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := upload.Write([]byte{0xFF, 0xD8, 0xFF}); err != nil {
		t.Fatal(err)
	}
	_ = upload.Close()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "enhance"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}), emit)
	e.Handle(ctx, Event{
		UserID: userID,
		Kind:   KindPhoto,
		Photo:  func(context.Context) (string, error) { return upload.Name(), nil },
	}, emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnPromptAuto}), emit)

	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}
	if backend.lastReq.Kind != genapi.KindImageEnhance {
		t.Errorf("kind = %s", backend.lastReq.Kind)
	}
	if backend.lastReq.Prompt != "" {
		t.Errorf("auto mode must send no custom instruction, got %q", backend.lastReq.Prompt)
	}
	if len(backend.lastReq.SourceImage) == 0 {
		t.Error("source image bytes missing")
	}
	if _, err := os.Stat(upload.Name()); !errors.Is(err, os.ErrNotExist) {
		t.Error("uploaded file must be released after processing")
	}
}

func TestEnhanceCustomPromptFlow(t *testing.T) {
	dir := &fakeDir{}
	backend := &fakeBackend{}
	e := newTestEngine(t, dir, backend)
	ctx := context.Background()

	upload, err := os.CreateTemp(t.TempDir(), "upload-*.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = upload.Write([]byte{1})
	_ = upload.Close()

	_, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "enhance"), emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}), emit)
	e.Handle(ctx, Event{
		UserID: userID,
		Kind:   KindPhoto,
		Photo:  func(context.Context) (string, error) { return upload.Name(), nil },
	}, emit)
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnPromptCustom}), emit)
	e.Handle(ctx, textEvent(userID, "make it look like a painting"), emit)

	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}
	if backend.lastReq.Prompt != "make it look like a painting" {
		t.Errorf("prompt = %q", backend.lastReq.Prompt)
	}
}

func TestBusyUserIsRejected(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})

	if !e.Sessions().Acquire(userID) {
		t.Fatal("setup acquire failed")
	}
	defer e.Sessions().Done(userID)

	acts, emit := collect()
	e.Handle(context.Background(), cmdEvent(userID, "ascii"), emit)

	if !containsText(*acts, "Still working") {
		t.Fatalf("want busy message, got %q", lastText(*acts))
	}
}

func TestHelpTopics(t *testing.T) {
	dir := &fakeDir{}
	e := newTestEngine(t, dir, &fakeBackend{})
	ctx := context.Background()

	acts, emit := collect()
	e.Handle(ctx, cmdEvent(userID, "help"), emit)
	if !containsText(*acts, "Pick a topic") {
		t.Fatalf("help overview: got %q", lastText(*acts))
	}

	acts2, emit2 := collect()
	e.Handle(ctx, btnEvent(userID, Button{Action: BtnHelp, Topic: HelpEnhance}), emit2)
	if !containsText(*acts2, "Photo enhancement") {
		t.Fatalf("help topic: got %q", lastText(*acts2))
	}
}

func TestHelpDeniedForUnknownUser(t *testing.T) {
	dir := &fakeDir{allowed: map[int64]bool{}}
	e := newTestEngine(t, dir, &fakeBackend{})

	acts, emit := collect()
	e.Handle(context.Background(), cmdEvent(userID, "help"), emit)
	if !containsText(*acts, "don't have access") {
		t.Fatalf("got %q", lastText(*acts))
	}
}

func TestQuotaExceededMessageFormat(t *testing.T) {
	now := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)
	msg := quotaExceededMessage(now)
	if !strings.Contains(msg, "1h 30m") {
		t.Fatalf("quota message = %q", msg)
	}
}
