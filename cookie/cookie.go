package cookie

import (
	"net/http"
	"time"
)

// DefaultName is the cookie name used when Options.Name is empty.
const DefaultName = "__Host-session"

// Options defines how session cookies are issued.
type Options struct {
	Name     string
	Path     string
	Domain   string // should usually be empty for __Host- cookies
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// normalize applies safe defaults without breaking callers
func (o Options) normalize() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Path == "" {
		o.Path = "/" // required for __Host-
	}
	if !o.HTTPOnly {
		o.HTTPOnly = true
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// Write issues the session cookie. A positive maxAge also sets Expires relative to now; zero
// makes it a browser-session cookie.
func Write(w http.ResponseWriter, value string, maxAge time.Duration, opts Options) {
	opts = opts.normalize()

	c := &http.Cookie{
		Name:     opts.Name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		HttpOnly: opts.HTTPOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
		c.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, c)
}

// Clear removes the session cookie from the client.
func Clear(w http.ResponseWriter, opts Options) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: opts.HTTPOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// Read returns the cookie value presented with r, or "" when there is none.
func Read(r *http.Request, opts Options) string {
	opts = opts.normalize()

	c, err := r.Cookie(opts.Name)
	if err != nil {
		return ""
	}
	return c.Value
}
