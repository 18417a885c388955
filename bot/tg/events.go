package tg

import (
	"github.com/karwa/bannerbot/bot/flow"
	"github.com/karwa/bannerbot/core/logger"
	"github.com/karwa/bannerbot/core/telegram/callbacks"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// CommandHandler returns a telebot handler producing a command event.
// The name is the command without the leading slash.
func (a *Adapter) CommandHandler(name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		return a.dispatch(c, flow.Event{Kind: flow.KindCommand, Command: name})
	}
}

// CallbackHandler returns a telebot handler producing a button event for the
// given callback key. The payload is decoded into a typed button before the
// engine sees it; undecodable presses are dropped with a log line.
func (a *Adapter) CallbackHandler(key string) tele.HandlerFunc {
	return func(c tele.Context) error {
		payload := callbacks.CallbackPayload(c)
		btn, err := flow.DecodeButton(key, payload)
		if err != nil {
			logger.TG.Warn("callback decode failed",
				slog.String("event", "callback.decode"),
				slog.String("cb_key", key),
				slog.String("payload", payload),
				slog.String("err", err.Error()),
			)
			return nil
		}
		return a.dispatch(c, flow.Event{Kind: flow.KindButton, Button: btn})
	}
}

// TextHandler produces a text event, carrying forward-origin metadata when
// the message was forwarded from another user.
func (a *Adapter) TextHandler(c tele.Context) error {
	ev := flow.Event{Kind: flow.KindText, Text: c.Text()}
	if msg := c.Message(); msg != nil && msg.Origin != nil {
		if msg.Origin.Sender != nil {
			ev.ForwardID = msg.Origin.Sender.ID
			ev.ForwardName = displayName(msg.Origin.Sender)
		} else if msg.Origin.SenderUsername != "" {
			// Privacy-restricted forwards expose a name but no id, which
			// is not enough to authorize anyone.
			ev.ForwardName = msg.Origin.SenderUsername
		}
	}
	return a.dispatch(c, ev)
}

// PhotoHandler produces a photo event. The actual file download is deferred
// until the engine decides the photo is wanted.
func (a *Adapter) PhotoHandler(c tele.Context) error {
	return a.dispatch(c, flow.Event{Kind: flow.KindPhoto, Photo: a.photoDownloader(c)})
}

func displayName(u *tele.User) string {
	switch {
	case u.Username != "":
		return u.Username
	case u.LastName != "":
		return u.FirstName + " " + u.LastName
	default:
		return u.FirstName
	}
}
