package views

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// LoginData is the state of the sign-in form.
type LoginData struct {
	Username   string
	RedirectTo string
	Error      string
}

// Login renders the sign-in page.
func Login(data LoginData) templ.Component {
	return Layout("Sign in", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<div class="card"><h1>Sign in to your account</h1>`)
		if data.Error != "" {
			h.raw(`<p class="error" role="alert">`)
			h.text(data.Error)
			h.raw(`</p>`)
		}
		h.raw(`<form method="post" action="/login">`)
		h.raw(`<input type="hidden" name="redirectTo" value="`)
		h.text(data.RedirectTo)
		h.raw(`"><label for="username">Username</label>`)
		h.raw(`<input id="username" name="username" autocomplete="username" required value="`)
		h.text(data.Username)
		h.raw(`"><label for="password">Password</label>`)
		h.raw(`<input id="password" name="password" type="password" autocomplete="current-password" required>`)
		h.raw(`<button type="submit">Sign in</button></form></div>`)
		return h.err
	}))
}
