package tg

import (
	"fmt"
	"strings"

	"github.com/karwa/bannerbot/bot/flow"
	coretelegram "github.com/karwa/bannerbot/core/telegram"
	"github.com/karwa/bannerbot/core/telegram/commands"
	tghelpers "github.com/karwa/bannerbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// BuildRegistry registers every command and callback the bot responds to.
func (a *Adapter) BuildRegistry() *coretelegram.Registry {
	reg := coretelegram.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.CommandHandler("start"),
		Description: "Open the main menu",
	})
	reg.RegisterCommand("/menu", commands.Command{
		Handler:     a.CommandHandler("menu"),
		Description: "Show the main menu",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     a.CommandHandler("help"),
		Description: "How to use the bot",
	})
	reg.RegisterCommand("/ascii", commands.Command{
		Handler:     a.CommandHandler("ascii"),
		Description: "Make an ASCII-art banner",
	})
	reg.RegisterCommand("/enhance", commands.Command{
		Handler:     a.CommandHandler("enhance"),
		Description: "Enhance a photo into a banner",
	})
	reg.RegisterCommand("/generate", commands.Command{
		Handler:     a.CommandHandler("generate"),
		Description: "Generate an image from text",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.CommandHandler("cancel"),
		Description: "Cancel the current workflow",
	})
	reg.RegisterCommand("/commands", commands.Command{
		Handler:     commandListHandler(reg),
		Description: "List available commands",
		Hidden:      true,
	})
	reg.RegisterCommand("/admin", commands.Command{
		Handler:     a.CommandHandler("admin"),
		Description: "Manage allowed users",
		OwnerOnly:   true,
	})

	for _, key := range flow.CallbackKeys() {
		_ = reg.RegisterCallback(key, a.CallbackHandler(key))
	}

	// Free text outside a workflow falls back to the menu.
	reg.SetTextFallback(a.CommandHandler("menu"))

	return reg
}

// commandListHandler renders the visible command set as a plain message.
func commandListHandler(reg *coretelegram.Registry) tele.HandlerFunc {
	return func(c tele.Context) error {
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, cmd := range reg.ListCommands(true) {
			fmt.Fprintf(&b, "%s — %s\n", cmd.Text, cmd.Description)
		}
		return tghelpers.SendText(c, strings.TrimRight(b.String(), "\n"))
	}
}
