package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evarainy/babycare/internal/timeutil"
)

type familyMember struct {
	OpenID   string `json:"openid"`
	NickName string `json:"nickName"`
	Role     string `json:"role"`
}

type babyProfile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birthDate"`
	Gender    string     `json:"gender"`
	Current   bool       `json:"current"`
}

func (a *App) getMe(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var familyName, inviteCode string
	err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT name, "inviteCode" FROM "Family" WHERE id = $1`,
		user.FamilyID,
	).Scan(&familyName, &inviteCode)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load family")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"openid":        user.OpenID,
		"nickName":      user.NickName,
		"role":          user.Role,
		"familyId":      user.FamilyID,
		"familyName":    familyName,
		"inviteCode":    inviteCode,
		"currentBabyId": user.CurrentBabyID,
	})
}

func (a *App) updateMe(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload updateUserRequest
	if !mustJSON(c, &payload) {
		return
	}

	// Blank fields keep their stored values.
	var nickName, role string
	var avatarUrl *string
	err := a.db.QueryRow(
		c.Request.Context(),
		`UPDATE "User"
		 SET "nickName" = COALESCE(NULLIF($2, ''), "nickName"),
		     "avatarUrl" = COALESCE(NULLIF($3, ''), "avatarUrl"),
		     role = COALESCE(NULLIF($4, ''), role),
		     "updatedAt" = NOW()
		 WHERE openid = $1
		 RETURNING "nickName", "avatarUrl", role`,
		user.OpenID,
		strings.TrimSpace(payload.NickName),
		strings.TrimSpace(payload.AvatarUrl),
		strings.TrimSpace(payload.Role),
	).Scan(&nickName, &avatarUrl, &role)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"openid":    user.OpenID,
		"nickName":  nickName,
		"avatarUrl": avatarUrl,
		"role":      role,
	})
}

func (a *App) bindFamily(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload bindFamilyRequest
	if !mustJSON(c, &payload) {
		return
	}
	inviteCode := strings.ToUpper(strings.TrimSpace(payload.InviteCode))
	if inviteCode == "" {
		a.issueInviteCode(c, user, payload.RefreshInvite)
		return
	}

	var familyID string
	err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT id FROM "Family" WHERE "inviteCode" = $1`,
		inviteCode,
	).Scan(&familyID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Invite code not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to look up invite code")
		return
	}
	if familyID == user.FamilyID {
		writeError(c, http.StatusBadRequest, "Already a member of this family")
		return
	}

	// Joining a family resets the baby selection; the previous family's
	// babies are no longer reachable.
	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "User" SET "familyId" = $2, role = $3, "currentBabyId" = NULL, "updatedAt" = NOW()
		 WHERE openid = $1`,
		user.OpenID,
		familyID,
		roleMember,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to join family")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "joined", "familyId": familyID})
}

// issueInviteCode answers a bind request that carries no code: it hands back
// the caller's family invite code, minting a fresh one on request or when
// none exists yet.
func (a *App) issueInviteCode(c *gin.Context, user AuthUser, refresh bool) {
	ctx := c.Request.Context()

	var code string
	if err := a.db.QueryRow(
		ctx,
		`SELECT "inviteCode" FROM "Family" WHERE id = $1`,
		user.FamilyID,
	).Scan(&code); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load invite code")
		return
	}

	if refresh || code == "" {
		fresh, err := randomCode(6)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to generate invite code")
			return
		}
		if _, err := a.db.Exec(
			ctx,
			`UPDATE "Family" SET "inviteCode" = $2 WHERE id = $1`,
			user.FamilyID,
			fresh,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to save invite code")
			return
		}
		code = fresh
	}

	c.JSON(http.StatusOK, gin.H{"familyId": user.FamilyID, "inviteCode": code})
}

func (a *App) listFamilyMembers(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT openid, "nickName", role FROM "User" WHERE "familyId" = $1 ORDER BY "createdAt" ASC`,
		user.FamilyID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load members")
		return
	}
	defer rows.Close()

	members := make([]familyMember, 0)
	for rows.Next() {
		var member familyMember
		if err := rows.Scan(&member.OpenID, &member.NickName, &member.Role); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to read members")
			return
		}
		members = append(members, member)
	}
	if rows.Err() != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read members")
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (a *App) createBaby(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload createBabyRequest
	if !mustJSON(c, &payload) {
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		writeError(c, http.StatusBadRequest, "name is required")
		return
	}

	var birthDate *time.Time
	if strings.TrimSpace(payload.BirthDate) != "" {
		parsed, err := timeutil.ParseDate(payload.BirthDate)
		if err != nil {
			writeError(c, http.StatusBadRequest, "birthDate must be YYYY-MM-DD")
			return
		}
		utc := parsed.UTC()
		birthDate = &utc
	}

	babyID := uuid.NewString()
	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO "Baby" (id, "familyId", name, "birthDate", gender, status, "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, $4, $5, 'active', NOW(), NOW())`,
		babyID,
		user.FamilyID,
		name,
		birthDate,
		normalizeGender(payload.Gender),
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create baby")
		return
	}

	// First baby becomes the user's current selection automatically.
	if user.CurrentBabyID == nil || *user.CurrentBabyID == "" {
		if _, err := a.db.Exec(
			c.Request.Context(),
			`UPDATE "User" SET "currentBabyId" = $2, "updatedAt" = NOW() WHERE openid = $1`,
			user.OpenID,
			babyID,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to select baby")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": babyID, "name": name})
}

func (a *App) listBabies(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, name, "birthDate", gender FROM "Baby"
		 WHERE "familyId" = $1 AND status != 'deleted' ORDER BY "createdAt" ASC`,
		user.FamilyID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load babies")
		return
	}
	defer rows.Close()

	babies := make([]babyProfile, 0)
	for rows.Next() {
		var baby babyProfile
		if err := rows.Scan(&baby.ID, &baby.Name, &baby.BirthDate, &baby.Gender); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to read babies")
			return
		}
		baby.Current = user.CurrentBabyID != nil && *user.CurrentBabyID == baby.ID
		babies = append(babies, baby)
	}
	if rows.Err() != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read babies")
		return
	}

	c.JSON(http.StatusOK, gin.H{"babies": babies})
}

func (a *App) selectCurrentBaby(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload selectBabyRequest
	if !mustJSON(c, &payload) {
		return
	}

	babyID, statusCode, err := a.resolveBabyID(c.Request.Context(), user, payload.BabyID)
	if err != nil {
		writeError(c, statusCode, err.Error())
		return
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "User" SET "currentBabyId" = $2, "updatedAt" = NOW() WHERE openid = $1`,
		user.OpenID,
		babyID,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to select baby")
		return
	}

	c.JSON(http.StatusOK, gin.H{"currentBabyId": babyID})
}

// deleteBaby soft-deletes a profile. A family always keeps at least one
// active baby, and anyone who had the deleted baby selected is moved to the
// oldest remaining one.
func (a *App) deleteBaby(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	babyID := strings.TrimSpace(c.Param("id"))
	if babyID == "" {
		writeError(c, http.StatusBadRequest, "babyId is required")
		return
	}
	ctx := c.Request.Context()

	var familyID string
	err := a.db.QueryRow(
		ctx,
		`SELECT "familyId" FROM "Baby" WHERE id = $1 AND status != 'deleted'`,
		babyID,
	).Scan(&familyID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Baby not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load baby")
		return
	}
	if familyID != user.FamilyID {
		writeError(c, http.StatusForbidden, "Baby belongs to another family")
		return
	}

	var activeCount int
	if err := a.db.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM "Baby" WHERE "familyId" = $1 AND status != 'deleted'`,
		user.FamilyID,
	).Scan(&activeCount); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load babies")
		return
	}
	if activeCount <= 1 {
		writeError(c, http.StatusBadRequest, "At least one baby must remain")
		return
	}

	if _, err := a.db.Exec(
		ctx,
		`UPDATE "Baby" SET status = 'deleted', "updatedAt" = NOW() WHERE id = $1`,
		babyID,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete baby")
		return
	}

	var nextID string
	if err := a.db.QueryRow(
		ctx,
		`SELECT id FROM "Baby" WHERE "familyId" = $1 AND status != 'deleted'
		 ORDER BY "createdAt" ASC LIMIT 1`,
		user.FamilyID,
	).Scan(&nextID); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load babies")
		return
	}
	if _, err := a.db.Exec(
		ctx,
		`UPDATE "User" SET "currentBabyId" = $2, "updatedAt" = NOW()
		 WHERE "familyId" = $1 AND "currentBabyId" = $3`,
		user.FamilyID,
		nextID,
		babyID,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to reassign current baby")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "currentBabyId": nextID})
}
