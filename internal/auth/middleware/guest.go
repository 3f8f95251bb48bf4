package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

const (
	guestCookie = "me_guest_id"
	guestPrefix = "guest|"
	guestTTL    = 30 * 24 * time.Hour
)

// GuestLoginHandler issues a user token to an anonymous browser. The guest
// id lives in a cookie so the same browser keeps its attempts.
//
// POST /auth/guest
func GuestLoginHandler(a *AuthService) http.HandlerFunc {
	type out struct {
		AccessToken string `json:"access_token"`
		Username    string `json:"username"`
		Role        string `json:"role"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(guestCookie); err == nil && validGuestID(c.Value) {
			id = c.Value
		} else {
			id = guestPrefix + uuid.NewString()
		}

		tok, err := a.IssueJWT(id, rbac.RoleUser)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     guestCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
			Expires:  a.now().Add(guestTTL),
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out{AccessToken: tok, Username: guestName(id), Role: rbac.RoleUser})
	}
}

func validGuestID(s string) bool {
	rest, ok := strings.CutPrefix(s, guestPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// guestName is the short display name, e.g. "guest-3f2a9c".
func guestName(id string) string {
	return "guest-" + strings.TrimPrefix(id, guestPrefix)[:6]
}
