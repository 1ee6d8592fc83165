package notify

import (
	"bytes"
	"html/template"
	"strings"

	"zendesk-prioritizer/pkg/prioritizer"
)

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.5; color: #2f3941; max-width: 640px; margin: 0 auto; padding: 16px; }
h2 { color: #03363d; border-bottom: 2px solid #03363d; padding-bottom: 8px; }
.count { color: #68737d; font-size: 0.9em; }
blockquote { background: #f8f9f9; border-left: 4px solid #1f73b7; margin: 12px 0; padding: 12px; }
a.view { color: #1f73b7; }
@media (prefers-color-scheme: dark) {
body { background: #17191a; color: #d8dcde; }
h2 { color: #5eae91; border-bottom-color: #5eae91; }
blockquote { background: #2f3941; }
a.view { color: #7dbbf2; }
}
</style>
</head>
<body>
<h2>{{.Title}}</h2>
{{if gt .TicketCount 1}}<p class="count">{{.TicketCount}} tickets, newest shown below</p>
{{end}}<p><strong>{{.Message}}</strong></p>
{{with .ContextMessage}}<blockquote>{{.}}</blockquote>
{{end}}{{with .Link}}<p><a class="view" href="{{.}}">Open view in Zendesk</a></p>
{{end}}</body>
</html>
`))

type emailData struct {
	*prioritizer.Notification
	Link string
}

func formatNotificationBody(n *prioritizer.Notification) string {
	data := emailData{Notification: n}
	if isSafeURL(n.LinkURL) {
		data.Link = n.LinkURL
	}
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		// The template only reads strings and ints from n.
		return template.HTMLEscapeString(n.Title)
	}
	return buf.String()
}

// formatNotificationText is the plain text alternative of the email body.
func formatNotificationText(n *prioritizer.Notification) string {
	lines := []string{n.Title, "", n.Message}
	if n.ContextMessage != "" {
		lines = append(lines, "", n.ContextMessage)
	}
	if isSafeURL(n.LinkURL) {
		lines = append(lines, "", "Open view: "+n.LinkURL)
	}
	return strings.Join(lines, "\n")
}

// isSafeURL only allows absolute http and https links.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))
	return strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://")
}
