package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"zendesk-prioritizer/pkg/prioritizer"
)

const appName = "Zendesk Prioritizer"

// Desktop shows notifications with the operating system's notifier.
type Desktop struct {
	logger *slog.Logger
	run    func(ctx context.Context, name string, args ...string) error
	goos   string
}

// NewDesktop creates a desktop notifier for the current OS.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		goos: runtime.GOOS,
	}
}

// Notify shows the notification. The title is the headline, the message and
// context message form the body.
func (d *Desktop) Notify(ctx context.Context, n *prioritizer.Notification) error {
	name, args, err := desktopCommand(d.goos, n)
	if err != nil {
		return err
	}

	d.logger.Debug("Showing desktop notification", "command", name, "id", n.ID, "title", n.Title)
	if err := d.run(ctx, name, args...); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

func desktopCommand(goos string, n *prioritizer.Notification) (string, []string, error) {
	body := n.Message
	if n.ContextMessage != "" {
		body += "\n" + n.ContextMessage
	}

	switch goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s subtitle %s",
			appleScriptString(n.ContextMessage), appleScriptString(n.Title), appleScriptString(n.Message))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd":
		return "notify-send", []string{"--app-name=" + appName, n.Title, body}, nil
	case "windows":
		script := fmt.Sprintf("New-BurntToastNotification -Text %s, %s", powerShellString(n.Title), powerShellString(body))
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	default:
		return "", nil, fmt.Errorf("unsupported OS: %s", goos)
	}
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func powerShellString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
