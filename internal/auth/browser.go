package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// BrowserAuthorizer prints the authorization URL and opens it in the desktop browser.
type BrowserAuthorizer struct {
	logger *zap.Logger
	out    io.Writer
	open   func(ctx context.Context, url string) error
}

func NewBrowserAuthorizer(logger *zap.Logger) *BrowserAuthorizer {
	return &BrowserAuthorizer{
		logger: logger,
		out:    os.Stdout,
		open:   openBrowser,
	}
}

func (b *BrowserAuthorizer) Authorize(ctx context.Context, url string) error {
	fmt.Fprintf(b.out, "Please visit the following URL to authorize scrobbling to your Last.fm account:\n%s\n", url)

	if err := b.open(ctx, url); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	b.logger.Debug("Opened authorization page in browser")
	return nil
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	// The opener exits as soon as the browser has the URL.
	go func() { _ = cmd.Wait() }()
	return nil
}
