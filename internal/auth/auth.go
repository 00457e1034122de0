// Package auth guards the trigger server with a single operator account
// configured through the environment. Browser callers get a securecookie
// session; cron callers can use basic auth on every request.
package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"
)

const cookieName = "courtwatch_session"

type Store struct {
	sc             *securecookie.SecureCookie
	operatorUser   string
	operatorBcrypt string
}

func NewStore(operatorUser, operatorBcrypt string, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int((14 * 24 * time.Hour).Seconds()))
	return &Store{sc: sc, operatorUser: operatorUser, operatorBcrypt: operatorBcrypt}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func (s *Store) Authenticate(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.operatorUser)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(s.operatorBcrypt), []byte(password)) == nil
	return userOK && passOK
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request) error {
	val := map[string]any{"user": s.operatorUser, "v": 1}
	encoded, err := s.sc.Encode(cookieName, val)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int((14 * 24 * time.Hour).Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) HasSession(r *http.Request) bool {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	val := map[string]any{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return false
	}
	user, _ := val["user"].(string)
	return user == s.operatorUser
}

// RequireAuth admits requests carrying a valid session cookie or basic auth
// credentials; everything else gets a 401.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.HasSession(r) {
			next.ServeHTTP(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); ok && s.Authenticate(user, pass) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="courtwatch"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}
