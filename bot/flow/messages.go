package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/karwa/bannerbot/bot/genapi"
	"github.com/karwa/bannerbot/bot/session"
	"github.com/karwa/bannerbot/bot/storage"
	"github.com/karwa/bannerbot/core/telegram/format"
)

const (
	msgAccessDenied = "⛔ You don't have access to this bot. Ask the owner to add you."
	msgOwnerOnly    = "⛔ This command is only available to the bot owner."
	msgStale        = "⌛ This session has expired or the action no longer applies. Please start again from the menu."
	msgBusy         = "⏳ Still working on your previous request, please wait."
	msgCancelled    = "Okay, cancelled. What would you like to do next?"
	msgNothingToDo  = "Nothing to cancel. What would you like to do?"

	msgAskText      = "✍️ Send me the text for your banner."
	msgAskPrompt    = "✍️ Describe the image you want me to generate."
	msgAskImage     = "📷 Send me the photo you want to enhance."
	msgAskCustom    = "✍️ Send me your enhancement instruction."
	msgProcessing   = "🎨 Generating, this can take up to a minute..."
	msgDone         = "✅ Here is your image!"
	msgDownloadFail = "😕 I couldn't download your photo. Try a smaller file or check your connection, then start again."

	msgFailCredits     = "💳 The generation service ran out of credits. Tell the owner to top up."
	msgFailRateLimited = "🚦 The generation service is rate-limiting us. Wait a minute and try again."
	msgFailTimeout     = "⏱ The generation took too long and was aborted. Please try again."
	msgFailNetwork     = "📡 A network problem interrupted the generation. Please try again."
	msgFailUnavailable = "🛠 The generation service is temporarily unavailable. Please try again later."

	msgAdminAskIdentifier = "Send me the numeric Telegram ID of the user, or forward any message from them."
	msgAdminBadIdentifier = "That doesn't look like a numeric ID. Send digits only, or forward a message from the user."
	msgAdminDuplicate     = "This user is already on the list."
	msgAdminProtected     = "The owner cannot be removed."
	msgAdminUnknown       = "This user is not on the list."
)

func failureMessage(err error) string {
	switch genapi.ReasonOf(err) {
	case genapi.ReasonInsufficientCredits:
		return msgFailCredits
	case genapi.ReasonRateLimited:
		return msgFailRateLimited
	case genapi.ReasonTimeout:
		return msgFailTimeout
	case genapi.ReasonNetwork:
		return msgFailNetwork
	case genapi.ReasonUnavailable:
		return msgFailUnavailable
	default:
		return fmt.Sprintf("😕 Generation failed: %s. Please try again.", format.EscapeMarkdown(shortDetail(err)))
	}
}

func shortDetail(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if len(msg) > 120 {
		msg = msg[:120] + "…"
	}
	return msg
}

func quotaExceededMessage(now time.Time) string {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	left := midnight.Sub(now).Round(time.Minute)
	hours := int(left.Hours())
	minutes := int(left.Minutes()) % 60
	return fmt.Sprintf("📊 You've used your daily generation. Quota resets in %dh %dm.", hours, minutes)
}

func helpText(topic HelpTopic) string {
	switch topic {
	case HelpASCII:
		return "🔤 *ASCII banner*\n\n" +
			"Turns short text into stylized ASCII lettering rendered as an image. " +
			"Pick a format, send the text, and the result arrives as a photo.\n\n" +
			"Start with /ascii or from the menu."
	case HelpEnhance:
		return "✨ *Photo enhancement*\n\n" +
			"Upload any photo and I reshape it into a banner or profile picture. " +
			"Choose automatic enhancement or describe the style yourself.\n\n" +
			"Start with /enhance or from the menu."
	case HelpT2I:
		return "🖼 *Text to image*\n\n" +
			"Describe a scene and I generate it from scratch in the format you pick.\n\n" +
			"Start with /generate or from the menu."
	default:
		return "I create banners and profile pictures.\n\n" +
			"/menu — show the generation menu\n" +
			"/ascii — banner from ASCII text\n" +
			"/enhance — enhance an uploaded photo\n" +
			"/generate — image from a description\n" +
			"/cancel — abort the current workflow\n\n" +
			"Pick a topic for details:"
	}
}

func helpRows(topic HelpTopic) [][]Btn {
	topics := []struct {
		t     HelpTopic
		label string
	}{
		{HelpASCII, "🔤 ASCII"},
		{HelpEnhance, "✨ Enhance"},
		{HelpT2I, "🖼 Generate"},
	}
	var row []Btn
	for _, it := range topics {
		if it.t == topic {
			continue
		}
		row = append(row, btn(it.label, KeyHelp, string(it.t)))
	}
	rows := [][]Btn{row}
	if topic != HelpMain {
		rows = append(rows, []Btn{btn("⬅️ Help", KeyHelp, "")})
	}
	rows = append(rows, []Btn{btn("📋 Menu", KeyMenu, "")})
	return rows
}

func mainMenuRows(isOwner bool) [][]Btn {
	rows := [][]Btn{
		{btn("🔤 ASCII banner", KeyStartASCII, "")},
		{btn("✨ Enhance a photo", KeyStartEnhance, "")},
		{btn("🖼 Text to image", KeyStartTextToImage, "")},
	}
	if isOwner {
		rows = append(rows, []Btn{btn("👑 Admin", KeyAdminMenu, "")})
	}
	return rows
}

func aspectRows() [][]Btn {
	return [][]Btn{
		{
			btn("🏞 Banner 3:1", KeyAspect, string(session.RatioBanner3x1)),
			btn("⬛ Square 1:1", KeyAspect, string(session.RatioSquare1x1)),
		},
		{btn("❌ Cancel", KeyCancel, "")},
	}
}

func promptTypeRows() [][]Btn {
	return [][]Btn{
		{
			btn("🤖 Auto enhance", KeyPromptAuto, ""),
			btn("✍️ Custom prompt", KeyPromptCustom, ""),
		},
		{btn("❌ Cancel", KeyCancel, "")},
	}
}

func cancelRow() [][]Btn {
	return [][]Btn{{btn("❌ Cancel", KeyCancel, "")}}
}

func doneRows() [][]Btn {
	return [][]Btn{{btn("🔄 Generate another", KeyMenu, "")}}
}

func menuRow() [][]Btn {
	return [][]Btn{{btn("📋 Menu", KeyMenu, "")}}
}

func adminMenuRows() [][]Btn {
	return [][]Btn{
		{btn("➕ Add user", KeyAdminAdd, ""), btn("➖ Remove user", KeyAdminRemove, "")},
		{btn("👥 List users", KeyAdminUsers, "0"), btn("📈 Stats", KeyAdminStats, "")},
		{btn("📋 Menu", KeyMenu, "")},
	}
}

func addConfirmRows() [][]Btn {
	return [][]Btn{
		{btn("✅ Confirm", KeyAdminAddConfirm, ""), btn("❌ Cancel", KeyCancel, "")},
	}
}

func removePickRows(users []storage.User) [][]Btn {
	rows := make([][]Btn, 0, len(users)+1)
	for _, u := range users {
		label := fmt.Sprintf("➖ %s (%d)", u.DisplayName, u.ID)
		rows = append(rows, []Btn{btn(label, KeyAdminRemovePick, strconv.FormatInt(u.ID, 10))})
	}
	rows = append(rows, []Btn{btn("⬅️ Back", KeyAdminMenu, "")})
	return rows
}

func removeConfirmRows(targetID int64) [][]Btn {
	id := strconv.FormatInt(targetID, 10)
	return [][]Btn{
		{btn("✅ Remove", KeyAdminRemoveConfirm, id), btn("⬅️ Back", KeyAdminRemove, "")},
	}
}

func userListRows(page, pages int) [][]Btn {
	var nav []Btn
	if page > 0 {
		nav = append(nav, btn("⬅️ Prev", KeyAdminUsers, strconv.Itoa(page-1)))
	}
	if page < pages-1 {
		nav = append(nav, btn("➡️ Next", KeyAdminUsers, strconv.Itoa(page+1)))
	}
	rows := [][]Btn{}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, []Btn{btn("⬅️ Back", KeyAdminMenu, "")})
	return rows
}

func formatUserList(users []storage.User, page, pages, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 Allowed users: %d (page %d/%d)\n\n", total, page+1, maxInt(pages, 1))
	if len(users) == 0 {
		b.WriteString("No users besides the owner.")
		return b.String()
	}
	for _, u := range users {
		fmt.Fprintf(&b, "• %s — %d, added %s\n",
			format.EscapeMarkdown(u.DisplayName), u.ID, u.AddedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStats(st storage.Stats) string {
	var b strings.Builder
	b.WriteString("📈 Usage statistics\n\n")
	fmt.Fprintf(&b, "Users: %d\n", st.TotalUsers)
	fmt.Fprintf(&b, "Generations today: %d\n", st.TotalToday)
	fmt.Fprintf(&b, "Generations all-time: %d\n", st.TotalAllTime)
	if st.MostActiveRuns > 0 {
		fmt.Fprintf(&b, "Most active: %s (%d runs)",
			format.EscapeMarkdown(st.MostActiveName), st.MostActiveRuns)
	}
	return strings.TrimRight(b.String(), "\n")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
