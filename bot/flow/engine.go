package flow

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/karwa/bannerbot/bot/genapi"
	"github.com/karwa/bannerbot/bot/session"
	"github.com/karwa/bannerbot/bot/storage"
	"github.com/karwa/bannerbot/core/logger"
	"log/slog"
)

// Directory is the authorization and quota contract the engine depends on.
// *storage.Store implements it.
type Directory interface {
	IsUserAllowed(ctx context.Context, userID int64) (bool, error)
	CanUserGenerate(ctx context.Context, userID int64) (storage.Quota, error)
	RecordGeneration(ctx context.Context, userID int64, workflow, outputType, prompt string) error
	AddUser(ctx context.Context, userID int64, displayName string, addedBy int64) error
	RemoveUser(ctx context.Context, userID int64) error
	GetUser(ctx context.Context, userID int64) (storage.User, error)
	ListUsers(ctx context.Context, page, pageSize int) ([]storage.User, int, error)
	UsageStats(ctx context.Context) (storage.Stats, error)
}

// Options configures the engine.
type Options struct {
	Sessions *session.Store
	Dir      Directory
	Backend  genapi.Backend
	OwnerID  int64
	PageSize int
	TempDir  string
	Now      func() time.Time
}

// Engine is the per-user conversational state machine. It interprets each
// inbound event against the current session, validates authorization and
// quota, advances the workflow, and emits display instructions.
type Engine struct {
	sessions *session.Store
	dir      Directory
	backend  genapi.Backend
	ownerID  int64
	pageSize int
	tempDir  string
	now      func() time.Time
}

// NewEngine builds an engine; zero option fields get sane defaults.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		sessions: opts.Sessions,
		dir:      opts.Dir,
		backend:  opts.Backend,
		ownerID:  opts.OwnerID,
		pageSize: opts.PageSize,
		tempDir:  opts.TempDir,
		now:      opts.Now,
	}
	if e.sessions == nil {
		e.sessions = session.NewStore()
	}
	if e.pageSize <= 0 {
		e.pageSize = 10
	}
	if e.tempDir == "" {
		e.tempDir = os.TempDir()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Sessions exposes the session store for routing decisions.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Emit receives display instructions as the engine produces them.
type Emit func(Action)

// Handle processes one normalized event. Events for the same user are
// serialized; a second event arriving while one is still being processed is
// rejected with a busy notice instead of interleaving.
func (e *Engine) Handle(ctx context.Context, ev Event, emit Emit) {
	if !e.sessions.Acquire(ev.UserID) {
		emit(send(msgBusy))
		return
	}
	defer e.sessions.Done(ev.UserID)

	defer func() {
		if r := recover(); r != nil {
			logger.FLOW.Error("event panic",
				slog.String("event", "workflow.panic"),
				slog.Int64("user_id", ev.UserID),
				slog.Any("err", r),
			)
			e.sessions.Clear(ev.UserID)
			emit(send("😕 Something went wrong. Please try again.", menuRow()...))
		}
	}()

	switch ev.Kind {
	case KindCommand:
		e.handleCommand(ctx, ev, emit)
	case KindButton:
		e.handleButton(ctx, ev, emit)
	case KindText:
		e.handleText(ctx, ev, emit)
	case KindPhoto:
		e.handlePhoto(ctx, ev, emit)
	}
}

func (e *Engine) handleCommand(ctx context.Context, ev Event, emit Emit) {
	switch ev.Command {
	case "start", "menu":
		e.showMenu(ctx, ev, emit, true)
	case "help":
		e.showHelp(ctx, ev, HelpMain, emit, true)
	case "ascii":
		e.startWorkflow(ctx, ev, session.WorkflowASCII, emit)
	case "enhance":
		e.startWorkflow(ctx, ev, session.WorkflowImageEnhance, emit)
	case "generate":
		e.startWorkflow(ctx, ev, session.WorkflowTextToImage, emit)
	case "cancel":
		e.cancel(ev, emit)
	case "admin":
		e.adminMenu(ev, emit)
	default:
		e.showMenu(ctx, ev, emit, true)
	}
}

func (e *Engine) handleButton(ctx context.Context, ev Event, emit Emit) {
	switch ev.Button.Action {
	case BtnStartASCII:
		e.startWorkflow(ctx, ev, session.WorkflowASCII, emit)
	case BtnStartEnhance:
		e.startWorkflow(ctx, ev, session.WorkflowImageEnhance, emit)
	case BtnStartTextToImage:
		e.startWorkflow(ctx, ev, session.WorkflowTextToImage, emit)
	case BtnAspect:
		e.selectAspect(ev, emit)
	case BtnPromptAuto:
		e.selectPromptType(ctx, ev, session.PromptAuto, emit)
	case BtnPromptCustom:
		e.selectPromptType(ctx, ev, session.PromptCustom, emit)
	case BtnCancel:
		e.cancel(ev, emit)
	case BtnMenu:
		e.showMenu(ctx, ev, emit, false)
	case BtnHelp:
		e.showHelp(ctx, ev, ev.Button.Topic, emit, false)
	case BtnAdminMenu, BtnAdminAdd, BtnAdminAddConfirm,
		BtnAdminRemove, BtnAdminRemovePick, BtnAdminRemoveConfirm,
		BtnAdminUsers, BtnAdminStats:
		e.handleAdminButton(ctx, ev, emit)
	default:
		emit(replace(msgStale, menuRow()...))
	}
}

func (e *Engine) handleText(ctx context.Context, ev Event, emit Emit) {
	sess := e.sessions.Get(ev.UserID)

	switch {
	case sess.Workflow == session.WorkflowAdminAddUser && sess.Step == session.StepAwaitingUserIdentifier:
		e.adminIdentifier(ev, sess, emit)
	case sess.Step == session.StepAwaitingText &&
		(sess.Workflow == session.WorkflowASCII || sess.Workflow == session.WorkflowTextToImage):
		e.runGeneration(ctx, ev, sess, ev.Text, emit)
	case sess.Workflow == session.WorkflowImageEnhance && sess.Step == session.StepAwaitingCustomPrompt:
		e.runGeneration(ctx, ev, sess, ev.Text, emit)
	default:
		e.logStale(ev, sess)
		emit(send(msgStale, menuRow()...))
	}
}

func (e *Engine) handlePhoto(ctx context.Context, ev Event, emit Emit) {
	sess := e.sessions.Get(ev.UserID)
	if sess.Workflow != session.WorkflowImageEnhance || sess.Step != session.StepAwaitingImage {
		e.logStale(ev, sess)
		emit(send(msgStale, menuRow()...))
		return
	}
	if ev.Photo == nil {
		emit(send(msgDownloadFail, menuRow()...))
		e.sessions.Clear(ev.UserID)
		return
	}

	path, err := ev.Photo(ctx)
	if err != nil {
		logger.FLOW.Warn("photo download failed",
			slog.String("event", "workflow.download_failed"),
			slog.Int64("user_id", ev.UserID),
			slog.String("err", err.Error()),
		)
		e.sessions.Clear(ev.UserID)
		emit(send(msgDownloadFail, menuRow()...))
		return
	}

	sess.ImagePath = path
	sess.Step = session.StepAwaitingPromptType
	e.sessions.Replace(ev.UserID, sess)
	emit(send("Got it! How should I enhance the photo?", promptTypeRows()...))
}

// startWorkflow is the shared entry: authorization strictly precedes the
// quota check, which strictly precedes session creation, so unauthorized or
// exhausted users never get a resumable session.
func (e *Engine) startWorkflow(ctx context.Context, ev Event, wf session.Workflow, emit Emit) {
	allowed, err := e.dir.IsUserAllowed(ctx, ev.UserID)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	if !allowed {
		emit(replace(msgAccessDenied))
		return
	}

	quota, err := e.dir.CanUserGenerate(ctx, ev.UserID)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	if !quota.Allowed {
		emit(replace(quotaExceededMessage(e.now().UTC())))
		return
	}

	e.sessions.Replace(ev.UserID, session.Session{
		Workflow: wf,
		Step:     session.StepAwaitingAspectRatio,
	})

	logger.FLOW.Info("workflow started",
		slog.String("event", "workflow.enter"),
		slog.Int64("user_id", ev.UserID),
		slog.String("workflow", wf.String()),
	)
	emit(replace("📐 Choose the output format:", aspectRows()...))
}

func (e *Engine) selectAspect(ev Event, emit Emit) {
	sess := e.sessions.Get(ev.UserID)
	if sess.Step != session.StepAwaitingAspectRatio {
		e.logStale(ev, sess)
		emit(replace(msgStale, menuRow()...))
		return
	}

	sess.AspectRatio = ev.Button.Ratio
	var prompt string
	switch sess.Workflow {
	case session.WorkflowASCII:
		sess.Step = session.StepAwaitingText
		prompt = msgAskText
	case session.WorkflowTextToImage:
		sess.Step = session.StepAwaitingText
		prompt = msgAskPrompt
	case session.WorkflowImageEnhance:
		sess.Step = session.StepAwaitingImage
		prompt = msgAskImage
	default:
		e.logStale(ev, sess)
		emit(replace(msgStale, menuRow()...))
		return
	}

	e.sessions.Replace(ev.UserID, sess)
	emit(replace(prompt, cancelRow()...))
}

func (e *Engine) selectPromptType(ctx context.Context, ev Event, mode session.PromptMode, emit Emit) {
	sess := e.sessions.Get(ev.UserID)
	if sess.Workflow != session.WorkflowImageEnhance || sess.Step != session.StepAwaitingPromptType {
		e.logStale(ev, sess)
		emit(replace(msgStale, menuRow()...))
		return
	}

	sess.PromptMode = mode
	if mode == session.PromptCustom {
		sess.Step = session.StepAwaitingCustomPrompt
		e.sessions.Replace(ev.UserID, sess)
		emit(replace(msgAskCustom, cancelRow()...))
		return
	}

	e.runGeneration(ctx, ev, sess, "", emit)
}

// runGeneration is the Processing step shared by all generation workflows.
// Quota is re-checked at the point of consumption: the entry check may have
// happened on a previous calendar day and rollover is lazy.
func (e *Engine) runGeneration(ctx context.Context, ev Event, sess session.Session, prompt string, emit Emit) {
	quota, err := e.dir.CanUserGenerate(ctx, ev.UserID)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	if !quota.Allowed {
		e.sessions.Clear(ev.UserID)
		emit(send(quotaExceededMessage(e.now().UTC()), menuRow()...))
		return
	}

	req, ok := e.buildRequest(ev, sess, prompt, emit)
	if !ok {
		return
	}

	sess.Step = session.StepProcessing
	if prompt != "" {
		if sess.Workflow == session.WorkflowImageEnhance {
			sess.CustomPrompt = prompt
		} else {
			sess.TextInput = prompt
		}
	}
	e.sessions.Replace(ev.UserID, sess)
	emit(replace(msgProcessing))

	start := e.now()
	img, genErr := e.backend.Generate(ctx, req)
	if genErr != nil {
		e.sessions.Clear(ev.UserID)
		logger.FLOW.Warn("generation failed",
			slog.String("event", "workflow.failed"),
			slog.Int64("user_id", ev.UserID),
			slog.String("workflow", sess.Workflow.String()),
			slog.String("reason", genapi.ReasonOf(genErr).String()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		emit(send(failureMessage(genErr), menuRow()...))
		return
	}

	resultPath := filepath.Join(e.tempDir, "banner-"+uuid.NewString()+".png")
	if err := os.WriteFile(resultPath, img, 0o600); err != nil {
		e.sessions.Clear(ev.UserID)
		e.fail(ev, err, emit)
		return
	}

	if err := e.dir.RecordGeneration(ctx, ev.UserID, sess.Workflow.String(), outputType(sess.AspectRatio), prompt); err != nil {
		// The image exists; losing the audit row must not eat the result.
		logger.FLOW.Error("record generation failed",
			slog.String("event", "workflow.record_failed"),
			slog.Int64("user_id", ev.UserID),
			slog.String("err", err.Error()),
		)
	}

	e.sessions.Clear(ev.UserID)
	logger.FLOW.Info("workflow finished",
		slog.String("event", "workflow.done"),
		slog.Int64("user_id", ev.UserID),
		slog.String("workflow", sess.Workflow.String()),
		slog.String("aspect_ratio", string(sess.AspectRatio)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	emit(sendPhoto(resultPath, msgDone))
	emit(send("What next?", doneRows()...))
}

func (e *Engine) buildRequest(ev Event, sess session.Session, prompt string, emit Emit) (genapi.Request, bool) {
	req := genapi.Request{
		AspectRatio: genapi.AspectRatio(sess.AspectRatio),
		Prompt:      prompt,
	}
	switch sess.Workflow {
	case session.WorkflowASCII:
		req.Kind = genapi.KindASCII
	case session.WorkflowTextToImage:
		req.Kind = genapi.KindTextToImage
	case session.WorkflowImageEnhance:
		req.Kind = genapi.KindImageEnhance
		img, err := os.ReadFile(sess.ImagePath)
		if err != nil {
			e.sessions.Clear(ev.UserID)
			e.fail(ev, err, emit)
			return genapi.Request{}, false
		}
		req.SourceImage = img
	default:
		e.logStale(ev, sess)
		emit(send(msgStale, menuRow()...))
		return genapi.Request{}, false
	}
	return req, true
}

// cancel clears the session from any non-terminal step. Cancelling an absent
// session produces the same neutral outcome.
func (e *Engine) cancel(ev Event, emit Emit) {
	hadSession := e.sessions.InProgress(ev.UserID)
	e.sessions.Clear(ev.UserID)

	isOwner := ev.UserID == e.ownerID
	if hadSession {
		logger.FLOW.Info("workflow cancelled",
			slog.String("event", "workflow.cancel"),
			slog.Int64("user_id", ev.UserID),
		)
		emit(replace(msgCancelled, mainMenuRows(isOwner)...))
		return
	}
	emit(replace(msgNothingToDo, mainMenuRows(isOwner)...))
}

func (e *Engine) showMenu(ctx context.Context, ev Event, emit Emit, fresh bool) {
	allowed, err := e.dir.IsUserAllowed(ctx, ev.UserID)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	if !allowed {
		emit(send(msgAccessDenied))
		return
	}

	text := "🎨 What would you like to create?"
	rows := mainMenuRows(ev.UserID == e.ownerID)
	if fresh {
		emit(send(text, rows...))
		return
	}
	emit(replace(text, rows...))
}

func (e *Engine) showHelp(ctx context.Context, ev Event, topic HelpTopic, emit Emit, fresh bool) {
	allowed, err := e.dir.IsUserAllowed(ctx, ev.UserID)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	if !allowed {
		emit(send(msgAccessDenied))
		return
	}
	if fresh {
		emit(send(helpText(topic), helpRows(topic)...))
		return
	}
	emit(replace(helpText(topic), helpRows(topic)...))
}

// fail is the terminal handler for unexpected errors: log, clear, notify.
func (e *Engine) fail(ev Event, err error, emit Emit) {
	logger.FLOW.Error("event failed",
		slog.String("event", "workflow.error"),
		slog.Int64("user_id", ev.UserID),
		slog.String("err", err.Error()),
	)
	e.sessions.Clear(ev.UserID)
	emit(send("😕 Something went wrong. Please try again.", menuRow()...))
}

func (e *Engine) logStale(ev Event, sess session.Session) {
	logger.FLOW.Debug("stale event",
		slog.String("event", "workflow.stale"),
		slog.Int64("user_id", ev.UserID),
		slog.String("workflow", sess.Workflow.String()),
		slog.String("step", sess.Step.String()),
		slog.String("kind", ev.Kind.String()),
	)
}

func outputType(r session.AspectRatio) string {
	if r == session.RatioBanner3x1 {
		return "banner"
	}
	return "profile"
}
