package stdio

import (
	"io"
	"log/slog"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO replaces stdin and stdout. A nil side keeps its default.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger sets the logger. It must not write to the protocol writer.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithFallbackToken sets the bearer token every request context carries in
// place of a client credential; upstream calls from stdio send it.
func WithFallbackToken(tok string) Option {
	return func(h *Handler) { h.token = tok }
}

// WithUserProvider names the session owner. Defaults to the OS user.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}
