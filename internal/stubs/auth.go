package stubs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/config"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
)

const (
	cookieName  = "session-token"
	sessionTTL  = 8 * time.Hour
	profileOnly = "Profile"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSession          = errors.New("no session")
)

type claims struct {
	jwt.RegisteredClaims
}

type user struct {
	name        string
	hash        []byte
	permissions []session.Permission
	mustChange  bool
}

func newUser(u config.StubUser) (*user, error) {
	hash := []byte(u.PasswordHash)
	if len(hash) == 0 {
		if u.Password == "" {
			return nil, fmt.Errorf("user %s: password or password_hash required", u.UserName)
		}
		h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	return &user{name: u.UserName, hash: hash, permissions: ParsePermissions(u.Permissions), mustChange: u.MustChangePassword}, nil
}

// ParsePermissions reads "Class" and "Class:ACTION" entries.
func ParsePermissions(entries []string) []session.Permission {
	actions := map[string][]string{}
	var order []string
	for _, e := range entries {
		class, action, _ := strings.Cut(e, ":")
		if _, seen := actions[class]; !seen {
			order = append(order, class)
			actions[class] = nil
		}
		if action != "" {
			actions[class] = append(actions[class], action)
		}
	}
	perms := make([]session.Permission, 0, len(order))
	for _, class := range order {
		a := actions[class]
		sort.Strings(a)
		perms = append(perms, session.Permission{ClassID: class, Actions: a})
	}
	return perms
}

// sessionPermissions is what the session endpoint grants: only Profile
// while the password must be changed.
func (u *user) sessionPermissions() []session.Permission {
	if u.mustChange {
		return []session.Permission{{ClassID: profileOnly}}
	}
	return u.permissions
}

func (u *user) checkPassword(password string) error {
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Server) issue(w http.ResponseWriter, name string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Expires:  now.Add(sessionTTL),
	})
	return nil
}

func clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1})
}

// authenticate returns the user behind the session cookie.
func (s *Server) authenticate(r *http.Request) (*user, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	token, err := jwt.ParseWithClaims(cookie.Value, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrNoSession
	}
	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" {
		return nil, ErrNoSession
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, revoked := s.revoked[cookie.Value]; revoked {
		return nil, ErrNoSession
	}
	u, ok := s.users[c.Subject]
	if !ok {
		return nil, ErrNoSession
	}
	return u, nil
}

// requireSession answers 403 to requests without a valid session.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authenticate(r); err != nil {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next(w, r)
	}
}
