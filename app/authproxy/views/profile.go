package views

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/authproxy/core/session"
)

// ExtendedProfile is the subset of the upstream /auth/me payload shown on the profile page.
type ExtendedProfile struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Gender    string `json:"gender"`
	Phone     string `json:"phone"`
}

// ProfileData feeds the profile page. ExtendedError is shown when the
// upstream profile could not be loaded.
type ProfileData struct {
	User          session.User
	Extended      *ExtendedProfile
	ExtendedError string
}

// Profile renders the signed-in user's page.
func Profile(data ProfileData) templ.Component {
	return Layout("Profile", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		u := data.User

		h.raw(`<div class="card"><h1>Profile</h1>`)
		if u.Image != "" {
			h.raw(`<img class="avatar" alt="" src="`)
			h.text(string(templ.URL(u.Image)))
			h.raw(`">`)
		}
		h.raw(`<h2>`)
		h.text(fullName(u.FirstName, u.LastName))
		h.raw(`</h2><p>@`)
		h.text(u.Username)
		h.raw(`</p><p>`)
		h.text(u.Email)
		h.raw(`</p></div>`)

		h.raw(`<div class="card"><h2>Account Details</h2>`)
		definitions(h, "Username", u.Username, "Gender", u.Gender, "ID", strconv.Itoa(u.ID))
		h.raw(`</div>`)

		h.raw(`<div class="card"><h2>Extended Profile</h2>`)
		switch {
		case data.Extended != nil:
			e := data.Extended
			pairs := []string{
				"Full Name", fullName(e.FirstName, e.LastName),
				"Email", e.Email,
				"Username", e.Username,
				"Gender", e.Gender,
			}
			if e.Phone != "" {
				pairs = append(pairs, "Phone", e.Phone)
			}
			definitions(h, pairs...)
		case data.ExtendedError != "":
			h.raw(`<p class="error">`)
			h.text(data.ExtendedError)
			h.raw(`</p>`)
		}
		h.raw(`</div>`)

		h.raw(`<form method="post" action="/logout"><button type="submit">Sign out</button></form>`)
		return h.err
	}))
}

// definitions renders label/value pairs as a description list.
func definitions(h *html, pairs ...string) {
	h.raw(`<dl>`)
	for i := 0; i+1 < len(pairs); i += 2 {
		h.raw(`<dt>`)
		h.text(pairs[i])
		h.raw(`</dt><dd>`)
		h.text(pairs[i+1])
		h.raw(`</dd>`)
	}
	h.raw(`</dl>`)
}

func fullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
