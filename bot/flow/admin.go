package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/karwa/bannerbot/bot/session"
	"github.com/karwa/bannerbot/bot/storage"
	"github.com/karwa/bannerbot/core/logger"
	"github.com/karwa/bannerbot/core/telegram/format"
	"log/slog"
)

// adminMenu shows the owner console. Non-owners fail closed with a fixed
// rejection and learn nothing about system state.
func (e *Engine) adminMenu(ev Event, emit Emit) {
	if ev.UserID != e.ownerID {
		emit(send(msgOwnerOnly))
		return
	}
	emit(replace("👑 Admin console", adminMenuRows()...))
}

func (e *Engine) handleAdminButton(ctx context.Context, ev Event, emit Emit) {
	if ev.UserID != e.ownerID {
		emit(replace(msgOwnerOnly))
		return
	}

	switch ev.Button.Action {
	case BtnAdminMenu:
		emit(replace("👑 Admin console", adminMenuRows()...))
	case BtnAdminAdd:
		e.adminStartAdd(ev, emit)
	case BtnAdminAddConfirm:
		e.adminConfirmAdd(ctx, ev, emit)
	case BtnAdminRemove:
		e.adminShowRemovable(ctx, ev, emit)
	case BtnAdminRemovePick:
		e.adminConfirmRemovePrompt(ctx, ev, emit)
	case BtnAdminRemoveConfirm:
		e.adminExecuteRemove(ctx, ev, emit)
	case BtnAdminUsers:
		e.adminListUsers(ctx, ev, emit)
	case BtnAdminStats:
		e.adminStats(ctx, ev, emit)
	}
}

func (e *Engine) adminStartAdd(ev Event, emit Emit) {
	e.sessions.Replace(ev.UserID, session.Session{
		Workflow: session.WorkflowAdminAddUser,
		Step:     session.StepAwaitingUserIdentifier,
	})
	emit(replace(msgAdminAskIdentifier, cancelRow()...))
}

// adminIdentifier consumes the text step of the add-user flow. It accepts a
// bare numeric ID or the origin of a forwarded message. Malformed input
// re-prompts without advancing the step.
func (e *Engine) adminIdentifier(ev Event, sess session.Session, emit Emit) {
	var (
		targetID   int64
		targetName string
	)

	switch {
	case ev.ForwardID != 0:
		targetID = ev.ForwardID
		targetName = ev.ForwardName
	default:
		id, err := strconv.ParseInt(strings.TrimSpace(ev.Text), 10, 64)
		if err != nil || id <= 0 {
			emit(send(msgAdminBadIdentifier, cancelRow()...))
			return
		}
		targetID = id
	}

	if targetName == "" {
		targetName = fmt.Sprintf("user %d", targetID)
	}

	sess.PendingTargetID = targetID
	sess.PendingTargetName = targetName
	sess.Step = session.StepAwaitingConfirmation
	e.sessions.Replace(ev.UserID, sess)

	emit(send(
		fmt.Sprintf("Add %s (ID %d) to the allowed users?", format.EscapeMarkdown(targetName), targetID),
		addConfirmRows()...))
}

// adminConfirmAdd commits the pending add. The confirmation is consumed with
// the session, so a duplicate confirm press lands on an absent session and
// is rejected as stale rather than double-inserting.
func (e *Engine) adminConfirmAdd(ctx context.Context, ev Event, emit Emit) {
	sess := e.sessions.Get(ev.UserID)
	if sess.Workflow != session.WorkflowAdminAddUser ||
		sess.Step != session.StepAwaitingConfirmation ||
		sess.PendingTargetID == 0 {
		e.logStale(ev, sess)
		emit(replace(msgStale, menuRow()...))
		return
	}

	targetID := sess.PendingTargetID
	targetName := sess.PendingTargetName
	e.sessions.Clear(ev.UserID)

	err := e.dir.AddUser(ctx, targetID, targetName, ev.UserID)
	switch {
	case errors.Is(err, storage.ErrDuplicateUser):
		emit(replace(msgAdminDuplicate, adminMenuRows()...))
	case err != nil:
		e.fail(ev, err, emit)
	default:
		logger.FLOW.Info("user added",
			slog.String("event", "admin.user_added"),
			slog.Int64("user_id", ev.UserID),
			slog.Int64("target_user_id", targetID),
		)
		emit(replace(
			fmt.Sprintf("✅ %s (ID %d) can now use the bot.", format.EscapeMarkdown(targetName), targetID),
			adminMenuRows()...))
	}
}

// adminShowRemovable lists non-owner users as pick buttons. The owner row is
// excluded here and re-checked at execution time.
func (e *Engine) adminShowRemovable(ctx context.Context, ev Event, emit Emit) {
	users, total, err := e.dir.ListUsers(ctx, 0, e.pageSize)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	if total == 0 {
		emit(replace("No removable users.", adminMenuRows()...))
		return
	}
	emit(replace("Select a user to remove:", removePickRows(users)...))
}

func (e *Engine) adminConfirmRemovePrompt(ctx context.Context, ev Event, emit Emit) {
	targetID := ev.Button.TargetID
	if targetID == e.ownerID {
		emit(replace(msgAdminProtected, adminMenuRows()...))
		return
	}

	u, err := e.dir.GetUser(ctx, targetID)
	switch {
	case errors.Is(err, storage.ErrUnknownUser):
		emit(replace(msgAdminUnknown, adminMenuRows()...))
		return
	case err != nil:
		e.fail(ev, err, emit)
		return
	}

	emit(replace(
		fmt.Sprintf("Remove %s (ID %d) from the allowed list?", format.EscapeMarkdown(u.DisplayName), targetID),
		removeConfirmRows(targetID)...))
}

func (e *Engine) adminExecuteRemove(ctx context.Context, ev Event, emit Emit) {
	targetID := ev.Button.TargetID
	err := e.dir.RemoveUser(ctx, targetID)
	switch {
	case errors.Is(err, storage.ErrProtectedOwner):
		emit(replace(msgAdminProtected, adminMenuRows()...))
	case errors.Is(err, storage.ErrUnknownUser):
		emit(replace(msgAdminUnknown, adminMenuRows()...))
	case err != nil:
		e.fail(ev, err, emit)
	default:
		logger.FLOW.Info("user removed",
			slog.String("event", "admin.user_removed"),
			slog.Int64("user_id", ev.UserID),
			slog.Int64("target_user_id", targetID),
		)
		emit(replace(
			fmt.Sprintf("✅ User %d removed.", targetID),
			adminMenuRows()...))
	}
}

func (e *Engine) adminListUsers(ctx context.Context, ev Event, emit Emit) {
	page := ev.Button.Page
	if page < 0 {
		page = 0
	}
	users, total, err := e.dir.ListUsers(ctx, page, e.pageSize)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}

	// A stale Next button can point past the last page after removals;
	// re-query with the clamped page instead of rendering an empty list.
	pages := (total + e.pageSize - 1) / e.pageSize
	if pages > 0 && page >= pages {
		page = pages - 1
		users, total, err = e.dir.ListUsers(ctx, page, e.pageSize)
		if err != nil {
			e.fail(ev, err, emit)
			return
		}
	}
	emit(replace(formatUserList(users, page, pages, total), userListRows(page, pages)...))
}

func (e *Engine) adminStats(ctx context.Context, ev Event, emit Emit) {
	st, err := e.dir.UsageStats(ctx)
	if err != nil {
		e.fail(ev, err, emit)
		return
	}
	emit(replace(formatStats(st), adminMenuRows()...))
}
