// Package tg bridges Telegram updates and the workflow engine. It normalizes
// each inbound update into a single engine event and renders the engine's
// display instructions back through telebot.
package tg

import (
	"os"

	"github.com/karwa/bannerbot/bot/flow"
	"github.com/karwa/bannerbot/core/logger"
	tghelpers "github.com/karwa/bannerbot/core/telegram/helpers"
	"github.com/karwa/bannerbot/core/telegram/keyboard"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// Adapter owns the update-to-event translation for one bot instance.
type Adapter struct {
	engine  *flow.Engine
	tempDir string
}

// New builds an adapter around the given engine. Downloaded photos land in
// tempDir; empty means the system temp directory.
func New(engine *flow.Engine, tempDir string) *Adapter {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Adapter{engine: engine, tempDir: tempDir}
}

// InProgress reports whether the sender has an active workflow, so the
// message router can direct plain text and photos into it.
func (a *Adapter) InProgress(userID int64) bool {
	return a.engine.Sessions().InProgress(userID)
}

func (a *Adapter) dispatch(c tele.Context, ev flow.Event) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ev.UserID = sender.ID
	ev.Username = sender.Username

	ctx := tghelpers.BuildContext(c)

	var firstErr error
	a.engine.Handle(ctx, ev, func(act flow.Action) {
		if err := a.render(c, act); err != nil {
			logger.TG.Warn("render failed",
				slog.String("event", "render.failed"),
				slog.Int64("user_id", ev.UserID),
				slog.String("err", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (a *Adapter) render(c tele.Context, act flow.Action) error {
	switch act.Type {
	case flow.DeleteMessage:
		return c.Delete()

	case flow.ReplaceMessage:
		// Only callback presses carry a message we can edit; everything
		// else degrades to a fresh message.
		if c.Callback() != nil {
			return tghelpers.EditOrSendMD(c, act.Text, buildMarkup(act.Buttons))
		}
		return tghelpers.SendMD(c, act.Text, buildMarkup(act.Buttons))

	default:
		if act.PhotoPath != "" {
			err := tghelpers.SendPhotoFile(c, act.PhotoPath, act.Text)
			if act.Transient {
				a.removeTransient(act.PhotoPath)
			}
			return err
		}
		return tghelpers.SendMD(c, act.Text, buildMarkup(act.Buttons))
	}
}

func (a *Adapter) removeTransient(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.TG.Warn("transient file not removed",
			slog.String("event", "cleanup.failed"),
			slog.String("path", path),
			slog.String("err", err.Error()),
		)
	}
}

func buildMarkup(rows [][]flow.Btn) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]keyboard.InlineBtn, len(rows))
	for i, row := range rows {
		r := make([]keyboard.InlineBtn, len(row))
		for j, b := range row {
			r[j] = keyboard.InlineBtn{Text: b.Label, Unique: b.Key, Data: b.Payload}
		}
		kb[i] = r
	}
	return keyboard.InlineButtonsRows(kb...)
}
