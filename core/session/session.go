// Package session keeps the authenticated user's state in an encrypted
// client-side cookie.
//
// There is no server-side storage. The whole Session value, tokens included,
// is sealed with the cookie manager and written back on every change.
// Concurrent requests from one browser each write their own cookie and the
// last response to arrive wins.
package session

// User is the upstream profile snapshot stored in the session.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
}

// Session is the per-client authentication state.
// A session that is not logged in never carries a user or tokens.
type Session struct {
	IsLoggedIn   bool   `json:"isLoggedIn"`
	User         *User  `json:"user,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	IsLoggedIn   *bool
	User         *User
	AccessToken  *string
	RefreshToken *string
}

// LoggedIn returns a patch that authenticates the session.
func LoggedIn(user User, accessToken, refreshToken string) Patch {
	yes := true
	return Patch{
		IsLoggedIn:   &yes,
		User:         &user,
		AccessToken:  &accessToken,
		RefreshToken: &refreshToken,
	}
}

// LoggedOut returns a patch that drops the user and both tokens.
func LoggedOut() Patch {
	no := false
	return Patch{IsLoggedIn: &no}
}

// Tokens returns a patch that replaces the token pair.
// An empty refresh token keeps the current one, since upstream may not rotate it.
func Tokens(accessToken, refreshToken string) Patch {
	p := Patch{AccessToken: &accessToken}
	if refreshToken != "" {
		p.RefreshToken = &refreshToken
	}
	return p
}

// Apply merges p into a copy of s and normalizes the result.
func (s Session) Apply(p Patch) Session {
	if p.IsLoggedIn != nil {
		s.IsLoggedIn = *p.IsLoggedIn
	}
	if p.User != nil {
		u := *p.User
		s.User = &u
	}
	if p.AccessToken != nil {
		s.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		s.RefreshToken = *p.RefreshToken
	}
	return s.normalize()
}

// HasTokens reports whether an access or refresh token is present.
func (s Session) HasTokens() bool {
	return s.AccessToken != "" || s.RefreshToken != ""
}

func (s Session) normalize() Session {
	if !s.IsLoggedIn {
		return Session{}
	}
	return s
}
