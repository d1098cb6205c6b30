package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evarainy/babycare/internal/parser"
	"github.com/evarainy/babycare/internal/timeutil"
)

var bindCommandRe = regexp.MustCompile(`^绑定\s*([A-Za-z0-9]{6})$`)

const botHelpText = `可以直接发消息记录宝宝日常，例如：
- 奶粉150
- 亲喂20分钟
- 换了尿布
发送"查询"查看今日汇总，发送"绑定 XXXXXX"完成账号绑定。`

const botBindPrompt = `还未绑定账号。请在应用中获取绑定码后，发送"绑定 XXXXXX"完成绑定。`

// issueBotBindCode generates a short-lived code the user relays to the chat
// bot to link the two identities.
func (a *App) issueBotBindCode(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	code, err := randomCode(6)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to generate bind code")
		return
	}
	expire := time.Now().UTC().Add(bindCodeTTL)

	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "User" SET "botBindCode" = $2, "botBindCodeExpire" = $3, "updatedAt" = NOW()
		 WHERE openid = $1`,
		user.OpenID,
		code,
		expire,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save bind code")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bindCode":  code,
		"expiresAt": expire,
	})
}

func (a *App) botWebhook(c *gin.Context) {
	var payload botWebhookRequest
	if !mustJSON(c, &payload) {
		return
	}
	externalID := strings.TrimSpace(payload.ChatID)
	text := strings.TrimSpace(payload.Content)
	if externalID == "" {
		writeError(c, http.StatusBadRequest, "chatId is required")
		return
	}

	ctx := c.Request.Context()

	if match := bindCommandRe.FindStringSubmatch(text); match != nil {
		reply, err := a.bindBotUser(ctx, externalID, strings.ToUpper(match[1]))
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to bind account")
			return
		}
		c.JSON(http.StatusOK, gin.H{"reply": reply})
		return
	}

	user, bound, err := a.lookupBotUser(ctx, externalID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to look up binding")
		return
	}
	if !bound {
		c.JSON(http.StatusOK, gin.H{"reply": botBindPrompt})
		return
	}

	switch {
	case text == "" || text == "帮助" || strings.EqualFold(text, "help"):
		c.JSON(http.StatusOK, gin.H{"reply": botHelpText})
	case text == "查询" || text == "今天" || strings.EqualFold(text, "query"):
		records, err := a.loadDayRecords(ctx, user.FamilyID, timeutil.DayRangeFor(time.Now()))
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to load records")
			return
		}
		summary := summarizeDay(records, timeutil.LocalDateKey(time.Now()), time.Now())
		c.JSON(http.StatusOK, gin.H{"reply": todaySummaryText(summary)})
	default:
		reply, err := a.recordFromText(ctx, user, sourceBot, text)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to save records")
			return
		}
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	}
}

func (a *App) bindBotUser(ctx context.Context, externalID, code string) (string, error) {
	var openid string
	err := a.db.QueryRow(
		ctx,
		`SELECT openid FROM "User" WHERE "botBindCode" = $1 AND "botBindCodeExpire" > NOW()`,
		code,
	).Scan(&openid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "绑定码无效或已过期，请在应用中重新获取。", nil
	}
	if err != nil {
		return "", err
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "BotBinding" (id, "externalUserId", openid, "createdAt")
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT ("externalUserId") DO UPDATE SET openid = EXCLUDED.openid`,
		uuid.NewString(),
		externalID,
		openid,
	); err != nil {
		return "", err
	}
	// A code is single-use.
	if _, err := tx.Exec(
		ctx,
		`UPDATE "User" SET "botBindCode" = NULL, "botBindCodeExpire" = NULL, "updatedAt" = NOW()
		 WHERE openid = $1`,
		openid,
	); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	return "绑定成功！现在可以直接发消息记录宝宝日常了。发送\"帮助\"查看用法。", nil
}

func (a *App) lookupBotUser(ctx context.Context, externalID string) (AuthUser, bool, error) {
	user := AuthUser{}
	var currentBabyID *string
	err := a.db.QueryRow(
		ctx,
		`SELECT u.openid, u."familyId", u."nickName", u.role, u."currentBabyId"
		 FROM "BotBinding" b
		 JOIN "User" u ON u.openid = b.openid
		 WHERE b."externalUserId" = $1`,
		externalID,
	).Scan(&user.OpenID, &user.FamilyID, &user.NickName, &user.Role, &currentBabyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, false, nil
	}
	if err != nil {
		return AuthUser{}, false, err
	}
	user.CurrentBabyID = currentBabyID
	return user, true, nil
}

// recordFromText runs the parsing pipeline and persists the result against
// the user's current baby, returning a chat-friendly confirmation.
func (a *App) recordFromText(ctx context.Context, user AuthUser, source, text string) (string, error) {
	if user.CurrentBabyID == nil || *user.CurrentBabyID == "" {
		return "还没有添加宝宝，请先在应用中添加宝宝信息。", nil
	}

	outcome, err := a.gateway.Parse(ctx, text, "")
	if errors.Is(err, parser.ErrEmptyInput) {
		return botHelpText, nil
	}
	if err != nil {
		return "", err
	}

	records, err := a.insertParsedEvents(ctx, user, *user.CurrentBabyID, source, outcome.Events, time.Now())
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(records)+2)
	lines = append(lines, fmt.Sprintf("已记录%d条：", len(records)))
	pending := 0
	for _, ev := range outcome.Events {
		lines = append(lines, "- "+eventLine(ev))
		if ev.NeedConfirm {
			pending++
		}
	}
	if pending > 0 {
		lines = append(lines, fmt.Sprintf("其中%d条待确认，请在应用中核对。", pending))
	}
	return strings.Join(lines, "\n"), nil
}

func todaySummaryText(summary daySummary) string {
	lines := []string{
		"今日汇总 " + summary.Date,
		fmt.Sprintf("喂养 %d 次，共 %sml", summary.FeedingCount, strconv.FormatFloat(summary.TotalAmount, 'f', -1, 64)),
		fmt.Sprintf("换尿布 %d 次，睡觉 %d 次", summary.DiaperCount, summary.SleepCount),
	}
	if summary.LastFeedingTime != nil {
		line := "上次喂养 " + summary.LastFeedingTime.In(timeutil.FixedZone).Format("15:04")
		if summary.IntervalMinutes != nil {
			line += fmt.Sprintf("（%d分钟前）", *summary.IntervalMinutes)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
