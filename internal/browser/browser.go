package browser

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/pkg/browser"
)

// Opener shows a URL to the user.
type Opener interface {
	Open(rawURL string) error
}

// System opens URLs in the desktop's default browser.
type System struct {
	log    *slog.Logger
	openFn func(string) error
}

func NewSystem(log *slog.Logger) *System {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &System{
		log:    log.With(slog.String("component", "browser")),
		openFn: browser.OpenURL,
	}
}

func (s *System) Open(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open %q: unsupported scheme", rawURL)
	}
	if err := s.openFn(u.String()); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	s.log.Info("opened url", slog.String("url", u.String()))
	return nil
}
