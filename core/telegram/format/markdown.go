package format

import "regexp"

var mdSpecials = regexp.MustCompile("([_*`\\[\\\\])")

// EscapeMarkdown escapes Telegram legacy-Markdown control characters so
// untrusted text can be embedded in a Markdown-parsed message. An unescaped
// `_` or `*` in a user-supplied name makes Telegram reject the whole send.
func EscapeMarkdown(text string) string {
	return mdSpecials.ReplaceAllString(text, `\$1`)
}
