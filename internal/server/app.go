package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evarainy/babycare/internal/config"
	"github.com/evarainy/babycare/internal/parser"
)

const (
	roleAdmin  = "admin"
	roleMember = "member"
)

// Bind codes avoid 0/O and 1/I so they survive being read aloud.
const bindCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const bindCodeTTL = 10 * time.Minute

type App struct {
	cfg     config.Config
	db      *pgxpool.Pool
	gateway *parser.Gateway
}

type AuthUser struct {
	OpenID        string
	FamilyID      string
	NickName      string
	Role          string
	CurrentBabyID *string
}

func New(cfg config.Config, pool *pgxpool.Pool) *App {
	gateway := parser.NewGateway(parser.GatewayConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
	})
	return &App{cfg: cfg, db: pool, gateway: gateway}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Siri-Secret"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)

	// Channels that authenticate outside the JWT flow.
	api.POST("/bot/webhook", a.botWebhook)
	api.POST("/assistants/siri/record", a.siriRecord)

	authed := api.Group("")
	authed.Use(a.authMiddleware())

	authed.POST("/records/parse", a.parseRecordText)
	authed.POST("/records", a.createRecords)
	authed.GET("/records", a.listRecords)
	authed.GET("/records/today-summary", a.todaySummary)
	authed.PATCH("/records/:id", a.updateRecord)
	authed.DELETE("/records/:id", a.deleteRecord)
	authed.GET("/reports", a.getReport)

	authed.GET("/users/me", a.getMe)
	authed.PATCH("/users/me", a.updateMe)
	authed.POST("/family/bind", a.bindFamily)
	authed.GET("/family/members", a.listFamilyMembers)
	authed.POST("/babies", a.createBaby)
	authed.GET("/babies", a.listBabies)
	authed.POST("/babies/current", a.selectCurrentBaby)
	authed.DELETE("/babies/:id", a.deleteBaby)
	authed.POST("/bot/bind-code", a.issueBotBindCode)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "babycare-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		openid, _ := claims["sub"].(string)
		openid = strings.TrimSpace(openid)
		if openid == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		user, err := a.getOrCreateUser(c.Request.Context(), openid, claims)
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set("authUser", user)
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func (a *App) getOrCreateUser(ctx context.Context, openid string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	var currentBabyID *string

	err := a.db.QueryRow(
		ctx,
		`SELECT openid, "familyId", "nickName", role, "currentBabyId" FROM "User" WHERE openid = $1`,
		openid,
	).Scan(&user.OpenID, &user.FamilyID, &user.NickName, &user.Role, &currentBabyID)
	if err == nil {
		user.CurrentBabyID = currentBabyID
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	nickName := ""
	if rawName, ok := claims["name"].(string); ok {
		nickName = strings.TrimSpace(rawName)
	}
	if nickName == "" {
		nickName = fmt.Sprintf("user-%s", truncateString(openid, 8))
	}

	// First login provisions a single-member family owned by the user.
	familyID := fmt.Sprintf("family_%s_%d", truncateString(openid, 12), time.Now().UnixMilli())
	inviteCode, err := randomCode(6)
	if err != nil {
		return AuthUser{}, err
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return AuthUser{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "Family" (id, name, "inviteCode", "createdAt") VALUES ($1, $2, $3, NOW())`,
		familyID,
		fmt.Sprintf("%s的家庭", nickName),
		inviteCode,
	); err != nil {
		return AuthUser{}, err
	}
	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "User" (openid, "familyId", "nickName", role, "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		openid,
		familyID,
		nickName,
		roleAdmin,
	); err != nil {
		return AuthUser{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AuthUser{}, err
	}

	return AuthUser{
		OpenID:   openid,
		FamilyID: familyID,
		NickName: nickName,
		Role:     roleAdmin,
	}, nil
}

func truncateString(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(bindCodeCharset)))
	code := make([]byte, length)
	for i := range code {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = bindCodeCharset[idx.Int64()]
	}
	return string(code), nil
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}
