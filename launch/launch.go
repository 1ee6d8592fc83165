// Package launch opens Zendesk agent links for tickets and views.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
)

// Modes accepted by NewOpener.
const (
	ModeBrowser   = "browser"
	ModeClipboard = "clipboard"
	ModeLog       = "log"
)

// URL returns the agent link for a ticket, or for a view when isView is set.
func URL(domain string, objectID int64, isView bool) string {
	kind := "tickets"
	if isView {
		kind = "filters"
	}
	return fmt.Sprintf("https://%s.zendesk.com/agent/%s/%d", domain, kind, objectID)
}

// Opener hands a URL to the user.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// NewOpener returns the opener for a mode.
func NewOpener(mode string, logger *slog.Logger) (Opener, error) {
	switch mode {
	case "", ModeBrowser:
		return OpenerFunc(Browser), nil
	case ModeClipboard:
		return OpenerFunc(func(_ context.Context, url string) error {
			if err := clipboard.WriteAll(url); err != nil {
				return fmt.Errorf("copy to clipboard: %w", err)
			}
			logger.Info("Link copied to clipboard", "url", url)
			return nil
		}), nil
	case ModeLog:
		return OpenerFunc(func(_ context.Context, url string) error {
			logger.Info("LAUNCH LINK", "url", url)
			return nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown launch mode %q", mode)
	}
}

// Browser opens the URL in the user's default browser. The opener process is
// not tied to ctx so it keeps running after the caller returns.
func Browser(_ context.Context, url string) error {
	name, args, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func browserCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{url}, nil
	case "linux":
		return "xdg-open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	default:
		return "", nil, fmt.Errorf("unsupported OS: %s", goos)
	}
}

// Launcher opens links on the configured domain.
type Launcher struct {
	opener Opener
	logger *slog.Logger
}

// New creates a launcher.
func New(opener Opener, logger *slog.Logger) *Launcher {
	return &Launcher{opener: opener, logger: logger}
}

// Launch opens a ticket or view and returns the URL it opened.
func (l *Launcher) Launch(ctx context.Context, domain string, objectID int64, isView bool) (string, error) {
	if domain == "" {
		return "", errors.New("no domain specified")
	}
	if objectID <= 0 {
		return "", fmt.Errorf("invalid object id %d", objectID)
	}

	u := URL(domain, objectID, isView)
	l.logger.Info("Launching link", "url", u, "is_view", isView)
	if err := l.opener.Open(ctx, u); err != nil {
		return "", fmt.Errorf("open %s: %w", u, err)
	}
	return u, nil
}
