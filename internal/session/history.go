// Package session はクッキーセッションに利用者の最近のジョブを記録します。
package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	CookieName = "anyconvert_session"

	// MaxHistory はセッションに保持するジョブ ID の上限です。
	MaxHistory = 50

	sessionKeyJobs = "job_ids"
)

var maxSessionLifetime = 12 * time.Hour

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// NewCookieStore は署名付きクッキーのセッションストアを作成します。
func NewCookieStore(secret string, secure bool) sessions.Store {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// Middleware はセッションを有効にするミドルウェアを返します。
func Middleware(store sessions.Store) gin.HandlerFunc {
	return sessions.Sessions(CookieName, store)
}

// Remember はジョブ ID を履歴の先頭に追加して保存します。
func Remember(c *gin.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	s := sessions.Default(c)
	current := decode(s.Get(sessionKeyJobs))

	next := make([]string, 0, len(current)+len(jobIDs))
	seen := make(map[string]bool, len(current)+len(jobIDs))
	// 新しいものほど先頭に置く
	for i := len(jobIDs) - 1; i >= 0; i-- {
		id := strings.TrimSpace(jobIDs[i])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		next = append(next, id)
	}
	for _, id := range current {
		if !seen[id] {
			seen[id] = true
			next = append(next, id)
		}
	}
	if len(next) > MaxHistory {
		next = next[:MaxHistory]
	}

	s.Set(sessionKeyJobs, strings.Join(next, ","))
	return s.Save()
}

// Recent は新しい順のジョブ ID を返します。
func Recent(c *gin.Context) []string {
	return decode(sessions.Default(c).Get(sessionKeyJobs))
}

func decode(v interface{}) []string {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
