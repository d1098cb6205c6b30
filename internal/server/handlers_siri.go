package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/evarainy/babycare/internal/parser"
)

// siriRecord accepts a dictated sentence from the phone shortcut, which
// authenticates with a shared secret instead of a JWT.
func (a *App) siriRecord(c *gin.Context) {
	secret := strings.TrimSpace(a.cfg.SiriSecret)
	if secret == "" {
		writeError(c, http.StatusServiceUnavailable, "Siri channel is not configured")
		return
	}
	var payload siriRecordRequest
	if !mustJSON(c, &payload) {
		return
	}

	// The shortcut may send the secret as a header or in the body.
	provided := c.GetHeader("X-Siri-Secret")
	if provided == "" {
		provided = strings.TrimSpace(payload.Secret)
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		writeError(c, http.StatusUnauthorized, "Invalid secret")
		return
	}

	openid := strings.TrimSpace(payload.UserID)
	if openid == "" {
		writeError(c, http.StatusBadRequest, "userId is required")
		return
	}

	user := AuthUser{}
	var currentBabyID *string
	err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT openid, "familyId", "nickName", role, "currentBabyId" FROM "User" WHERE openid = $1`,
		openid,
	).Scan(&user.OpenID, &user.FamilyID, &user.NickName, &user.Role, &currentBabyID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load user")
		return
	}
	user.CurrentBabyID = currentBabyID
	if user.CurrentBabyID == nil || *user.CurrentBabyID == "" {
		writeError(c, http.StatusBadRequest, "No baby selected for this user")
		return
	}

	outcome, err := a.gateway.Parse(c.Request.Context(), payload.Text, "")
	if errors.Is(err, parser.ErrEmptyInput) {
		writeError(c, http.StatusBadRequest, "text is required")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to parse text")
		return
	}

	records, err := a.insertParsedEvents(
		c.Request.Context(),
		user,
		*user.CurrentBabyID,
		sourceSiri,
		outcome.Events,
		time.Now(),
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save records")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply":        fmt.Sprintf("已记录%d条", len(records)),
		"records":      records,
		"usedFallback": outcome.UsedFallback,
	})
}
