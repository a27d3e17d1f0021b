// Package views holds the server-rendered pages as templ components.
package views

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const styles = `body{font-family:system-ui,sans-serif;background:#f9fafb;color:#111827;margin:0}
main{max-width:40rem;margin:3rem auto;padding:0 1rem}
.card{background:#fff;border-radius:.5rem;box-shadow:0 1px 3px rgba(0,0,0,.1);padding:1.5rem;margin-bottom:1.5rem}
label{display:block;font-size:.875rem;margin:.75rem 0 .25rem}
input{width:100%;padding:.5rem;border:1px solid #d1d5db;border-radius:.375rem;box-sizing:border-box}
button{margin-top:1rem;padding:.5rem 1rem;border:0;border-radius:.375rem;background:#4f46e5;color:#fff;cursor:pointer}
.error{background:#fef2f2;color:#b91c1c;padding:.75rem;border-radius:.375rem}
dl{display:grid;grid-template-columns:10rem 1fr;gap:.5rem}dt{color:#6b7280}
img.avatar{width:5rem;height:5rem;border-radius:50%}`

// html accumulates the first write error so templates read top to bottom.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *html) text(s string) { h.raw(templ.EscapeString(s)) }

func (h *html) render(ctx context.Context, c templ.Component) {
	if h.err == nil {
		h.err = c.Render(ctx, h.w)
	}
}

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		h.text(title)
		h.raw(`</title><style>` + styles + `</style></head><body><main>`)
		h.render(ctx, body)
		h.raw(`</main></body></html>`)
		return h.err
	})
}
