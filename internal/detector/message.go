package detector

import (
	"fmt"
	"html"
	"strings"
)

// FormatChange renders the notification as Telegram HTML.
func FormatChange(label string, ev ChangeEvent) string {
	label = strings.TrimSpace(label)
	subject := "The IP address"
	if label != "" {
		subject = html.EscapeString(label) + "'s IP address"
	}
	var b strings.Builder
	if ev.First() {
		fmt.Fprintf(&b, "%s is:\n<code>%s</code>", subject, html.EscapeString(ev.New))
	} else {
		fmt.Fprintf(&b, "%s has changed to:\n<code>%s</code>\n(was <code>%s</code>)",
			subject, html.EscapeString(ev.New), html.EscapeString(ev.Old))
	}
	return b.String()
}
