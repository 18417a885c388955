package session

import (
	"errors"
	"os"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(clock *fakeClock, released *[]string) *Store {
	return NewStore(
		WithClock(clock.Now),
		WithReleaseFunc(func(path string) error {
			*released = append(*released, path)
			return nil
		}),
	)
}

func TestStoreGetReturnsFresh(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	sess := s.Get(42)
	if sess.UserID != 42 {
		t.Fatalf("UserID = %d, want 42", sess.UserID)
	}
	if sess.Active() {
		t.Fatal("fresh session must not be active")
	}
}

func TestStoreExpiryReleasesResource(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	s.Replace(42, Session{
		Workflow:  WorkflowImageEnhance,
		Step:      StepAwaitingPromptType,
		ImagePath: "/tmp/upload-1.jpg",
	})

	clock.Advance(DefaultTTL + time.Second)

	sess := s.Get(42)
	if sess.Active() {
		t.Fatalf("expired session returned as active: %+v", sess)
	}
	if len(released) != 1 || released[0] != "/tmp/upload-1.jpg" {
		t.Fatalf("released = %v, want [/tmp/upload-1.jpg]", released)
	}
}

func TestStoreGetWithinTTLKeepsSession(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	s.Replace(42, Session{Workflow: WorkflowASCII, Step: StepAwaitingText, AspectRatio: RatioBanner3x1})
	clock.Advance(9 * time.Minute)

	sess := s.Get(42)
	if sess.Workflow != WorkflowASCII || sess.Step != StepAwaitingText {
		t.Fatalf("session lost before TTL: %+v", sess)
	}
	if sess.AspectRatio != RatioBanner3x1 {
		t.Fatalf("AspectRatio = %q, want %q", sess.AspectRatio, RatioBanner3x1)
	}
}

func TestStoreReplaceReleasesPriorResource(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	s.Replace(42, Session{Workflow: WorkflowImageEnhance, Step: StepAwaitingPromptType, ImagePath: "/tmp/a.jpg"})
	s.Replace(42, Session{Workflow: WorkflowImageEnhance, Step: StepAwaitingImage, ImagePath: ""})

	if len(released) != 1 || released[0] != "/tmp/a.jpg" {
		t.Fatalf("released = %v, want [/tmp/a.jpg]", released)
	}
}

func TestStoreReplaceKeepsSharedResource(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	s.Replace(42, Session{Workflow: WorkflowImageEnhance, Step: StepAwaitingPromptType, ImagePath: "/tmp/a.jpg"})
	s.Replace(42, Session{Workflow: WorkflowImageEnhance, Step: StepAwaitingCustomPrompt, ImagePath: "/tmp/a.jpg"})

	if len(released) != 0 {
		t.Fatalf("shared resource must survive replace, released = %v", released)
	}
}

func TestStoreClearIdempotent(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	s.Replace(42, Session{Workflow: WorkflowASCII, Step: StepAwaitingText, ImagePath: "/tmp/a.jpg"})
	s.Clear(42)
	s.Clear(42)
	s.Clear(99)

	if len(released) != 1 {
		t.Fatalf("resource released %d times, want 1", len(released))
	}
	if s.InProgress(42) {
		t.Fatal("cleared session still in progress")
	}
}

func TestStoreReleaseFailureIsSwallowed(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(
		WithClock(clock.Now),
		WithReleaseFunc(func(string) error { return errors.New("permission denied") }),
	)

	s.Replace(42, Session{Workflow: WorkflowImageEnhance, Step: StepAwaitingPromptType, ImagePath: "/tmp/a.jpg"})
	s.Clear(42)

	if sess := s.Get(42); sess.Active() {
		t.Fatal("session must be cleared even when release fails")
	}
}

func TestStoreReleaseMissingFileIsNotAnError(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(
		WithClock(clock.Now),
		WithReleaseFunc(func(string) error { return os.ErrNotExist }),
	)

	s.Replace(42, Session{Workflow: WorkflowImageEnhance, Step: StepAwaitingPromptType, ImagePath: "/tmp/gone.jpg"})
	s.Clear(42)

	if sess := s.Get(42); sess.Active() {
		t.Fatal("session must be cleared when file is already gone")
	}
}

func TestStoreAcquireSerializesPerUser(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	if !s.Acquire(42) {
		t.Fatal("first acquire must succeed")
	}
	if s.Acquire(42) {
		t.Fatal("second acquire for same user must fail while busy")
	}
	if !s.Acquire(43) {
		t.Fatal("acquire for a different user must succeed")
	}
	s.Done(42)
	if !s.Acquire(42) {
		t.Fatal("acquire must succeed after Done")
	}
	s.Done(42)
	s.Done(43)
}

func TestStoreInProgressHonoursTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	s.Replace(42, Session{Workflow: WorkflowTextToImage, Step: StepAwaitingText})
	if !s.InProgress(42) {
		t.Fatal("active session must be in progress")
	}

	clock.Advance(DefaultTTL + time.Minute)
	if s.InProgress(42) {
		t.Fatal("expired session must not be in progress")
	}
}

func TestStoreDoneDropsIdleEntries(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	// A sender that never starts a workflow must not leave an entry behind.
	if !s.Acquire(42) {
		t.Fatal("acquire must succeed")
	}
	s.Done(42)

	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d, want 0 after Done with no session", n)
	}
}

func TestStoreDoneKeepsActiveSessionThenDropsOnClear(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	var released []string
	s := newTestStore(clock, &released)

	if !s.Acquire(42) {
		t.Fatal("acquire must succeed")
	}
	s.Replace(42, Session{Workflow: WorkflowASCII, Step: StepAwaitingText})
	s.Done(42)

	if !s.InProgress(42) {
		t.Fatal("active session must survive Done")
	}

	if !s.Acquire(42) {
		t.Fatal("re-acquire must succeed")
	}
	s.Clear(42)
	s.Done(42)

	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d, want 0 after Clear and Done", n)
	}
}
