package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evarainy/babycare/internal/parser"
	"github.com/evarainy/babycare/internal/timeutil"
)

type feedingRecord struct {
	ID          string    `json:"id"`
	BabyID      string    `json:"babyId"`
	OpenID      string    `json:"openid"`
	Type        string    `json:"type"`
	Amount      *float64  `json:"amount"`
	Side        string    `json:"side,omitempty"`
	FeedingType string    `json:"feedingType,omitempty"`
	Duration    *int      `json:"duration"`
	Note        string    `json:"note"`
	RecordTime  time.Time `json:"recordTime"`
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"createdAt"`
}

const feedingRecordColumns = `id, "babyId", openid, type, amount, side, "feedingType", duration, note, "recordTime", source, status, confidence, "createdAt"`

func scanFeedingRecord(row pgx.Row) (feedingRecord, error) {
	var record feedingRecord
	var side, feedingType, note *string
	err := row.Scan(
		&record.ID,
		&record.BabyID,
		&record.OpenID,
		&record.Type,
		&record.Amount,
		&side,
		&feedingType,
		&note,
		&record.RecordTime,
		&record.Source,
		&record.Status,
		&record.Confidence,
		&record.CreatedAt,
	)
	if err != nil {
		return feedingRecord{}, err
	}
	if side != nil {
		record.Side = *side
	}
	if feedingType != nil {
		record.FeedingType = *feedingType
	}
	if note != nil {
		record.Note = *note
	}
	return record, nil
}

func (a *App) parseRecordText(c *gin.Context) {
	if _, ok := authUserFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload parseTextRequest
	if !mustJSON(c, &payload) {
		return
	}

	outcome, err := a.gateway.Parse(c.Request.Context(), payload.Text, payload.CurrentTime)
	if errors.Is(err, parser.ErrEmptyInput) {
		writeError(c, http.StatusBadRequest, "text is required")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to parse text")
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// resolveBabyID picks the request baby or falls back to the user's current
// baby, verifying family ownership either way.
func (a *App) resolveBabyID(ctx context.Context, user AuthUser, requested string) (string, int, error) {
	babyID := strings.TrimSpace(requested)
	if babyID == "" {
		if user.CurrentBabyID == nil || *user.CurrentBabyID == "" {
			return "", http.StatusBadRequest, errors.New("babyId is required")
		}
		babyID = *user.CurrentBabyID
	}

	var familyID string
	err := a.db.QueryRow(
		ctx,
		`SELECT "familyId" FROM "Baby" WHERE id = $1 AND status != 'deleted'`,
		babyID,
	).Scan(&familyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", http.StatusNotFound, errors.New("Baby not found")
	}
	if err != nil {
		return "", http.StatusInternalServerError, err
	}
	if familyID != user.FamilyID {
		return "", http.StatusForbidden, errors.New("Baby belongs to another family")
	}
	return babyID, http.StatusOK, nil
}

// insertParsedEvents persists one row per event. Writes run concurrently with
// no ordering guarantee among them; the returned slice mirrors event order.
func (a *App) insertParsedEvents(ctx context.Context, user AuthUser, babyID, source string, events []parser.ParsedEvent, base time.Time) ([]feedingRecord, error) {
	records := make([]feedingRecord, len(events))
	errs := make([]error, len(events))

	var wg sync.WaitGroup
	for i := range events {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ev := events[idx]
			record := feedingRecord{
				ID:          uuid.NewString(),
				BabyID:      babyID,
				OpenID:      user.OpenID,
				Type:        ev.Type,
				Amount:      ev.Amount,
				Side:        ev.Side,
				FeedingType: ev.FeedingType,
				Duration:    ev.Duration,
				Note:        ev.Note,
				RecordTime:  timeutil.ResolveRecordTime(ev.RecordTime, base),
				Source:      source,
				Status:      recordStatusFor(ev.NeedConfirm),
				Confidence:  ev.Confidence,
				CreatedAt:   time.Now().UTC(),
			}
			_, err := a.db.Exec(
				ctx,
				`INSERT INTO "FeedingRecord"
				 (id, "familyId", openid, "babyId", type, amount, side, "feedingType", duration, note, "recordTime", source, status, confidence, "createdAt", "updatedAt")
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())`,
				record.ID,
				user.FamilyID,
				record.OpenID,
				record.BabyID,
				record.Type,
				record.Amount,
				record.Side,
				record.FeedingType,
				record.Duration,
				record.Note,
				record.RecordTime,
				record.Source,
				record.Status,
				record.Confidence,
			)
			if err != nil {
				errs[idx] = err
				return
			}
			records[idx] = record
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (a *App) createRecords(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload createRecordsRequest
	if !mustJSON(c, &payload) {
		return
	}
	if len(payload.Events) == 0 {
		writeError(c, http.StatusBadRequest, "events must not be empty")
		return
	}
	for i, ev := range payload.Events {
		eventType, ok := parser.NormalizeType(ev.Type)
		if !ok {
			writeError(c, http.StatusBadRequest, "Invalid event type: "+ev.Type)
			return
		}
		payload.Events[i].Type = eventType
	}

	babyID, statusCode, err := a.resolveBabyID(c.Request.Context(), user, payload.BabyID)
	if err != nil {
		writeError(c, statusCode, err.Error())
		return
	}

	records, err := a.insertParsedEvents(
		c.Request.Context(),
		user,
		babyID,
		normalizeSource(payload.Source),
		payload.Events,
		time.Now(),
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save records")
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (a *App) listRecords(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	dayRange, err := timeutil.DayRangeForDate(c.Query("date"), time.Now())
	if err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	query := `SELECT ` + feedingRecordColumns + `
		 FROM "FeedingRecord"
		 WHERE "familyId" = $1 AND status != $2 AND "recordTime" BETWEEN $3 AND $4`
	args := []any{user.FamilyID, recordStatusDeleted, dayRange.Start, dayRange.End}
	if babyID := strings.TrimSpace(c.Query("babyId")); babyID != "" {
		query += ` AND "babyId" = $5`
		args = append(args, babyID)
	}
	query += ` ORDER BY "recordTime" ASC`

	rows, err := a.db.Query(c.Request.Context(), query, args...)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load records")
		return
	}
	defer rows.Close()

	records := make([]feedingRecord, 0)
	for rows.Next() {
		record, err := scanFeedingRecord(rows)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to read records")
			return
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read records")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":    timeutil.LocalDateKey(dayRange.Start),
		"records": records,
	})
}

func (a *App) loadDayRecords(ctx context.Context, familyID string, dayRange timeutil.DayRange) ([]feedingRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT `+feedingRecordColumns+`
		 FROM "FeedingRecord"
		 WHERE "familyId" = $1 AND status != $2 AND "recordTime" BETWEEN $3 AND $4
		 ORDER BY "recordTime" ASC`,
		familyID,
		recordStatusDeleted,
		dayRange.Start,
		dayRange.End,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]feedingRecord, 0)
	for rows.Next() {
		record, err := scanFeedingRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type daySummary struct {
	Date             string          `json:"date"`
	FeedingCount     int             `json:"feedingCount"`
	TotalAmount      float64         `json:"totalAmount"`
	FormulaAmount    float64         `json:"formulaAmount"`
	BreastMilkAmount float64         `json:"breastMilkAmount"`
	FoodAmount       float64         `json:"foodAmount"`
	FoodCount        int             `json:"foodCount"`
	DiaperCount      int             `json:"diaperCount"`
	SleepCount       int             `json:"sleepCount"`
	LastFeedingTime  *time.Time      `json:"lastFeedingTime"`
	IntervalMinutes  *int            `json:"intervalMinutes"`
	Records          []feedingRecord `json:"records"`
}

func summarizeDay(records []feedingRecord, date string, now time.Time) daySummary {
	summary := daySummary{Date: date, Records: records}
	for _, record := range records {
		switch record.Type {
		case parser.TypeBreastfeeding, parser.TypeBottle:
			summary.FeedingCount++
			if record.Amount != nil {
				summary.TotalAmount += *record.Amount
				switch record.FeedingType {
				case parser.FeedingFormula:
					summary.FormulaAmount += *record.Amount
				case parser.FeedingBreastmilk:
					summary.BreastMilkAmount += *record.Amount
				}
			}
			t := record.RecordTime
			if summary.LastFeedingTime == nil || t.After(*summary.LastFeedingTime) {
				summary.LastFeedingTime = &t
			}
		case parser.TypeFood:
			summary.FoodCount++
			if record.Amount != nil {
				summary.FoodAmount += *record.Amount
			}
		case parser.TypeDiaper:
			summary.DiaperCount++
		case parser.TypeSleep:
			summary.SleepCount++
		}
	}
	if summary.LastFeedingTime != nil {
		minutes := int(now.Sub(*summary.LastFeedingTime).Minutes())
		summary.IntervalMinutes = &minutes
	}
	return summary
}

func (a *App) todaySummary(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	now := time.Now()
	records, err := a.loadDayRecords(c.Request.Context(), user.FamilyID, timeutil.DayRangeFor(now))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load records")
		return
	}

	c.JSON(http.StatusOK, summarizeDay(records, timeutil.LocalDateKey(now), now))
}

func (a *App) updateRecord(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	recordID := c.Param("id")

	var payload updateRecordRequest
	if !mustJSON(c, &payload) {
		return
	}

	record, err := scanFeedingRecord(a.db.QueryRow(
		c.Request.Context(),
		`SELECT `+feedingRecordColumns+` FROM "FeedingRecord" WHERE id = $1 AND "familyId" = $2`,
		recordID,
		user.FamilyID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Record not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load record")
		return
	}
	if record.Status == recordStatusDeleted {
		writeError(c, http.StatusNotFound, "Record not found")
		return
	}

	if payload.Type != nil {
		eventType, ok := parser.NormalizeType(*payload.Type)
		if !ok {
			writeError(c, http.StatusBadRequest, "Invalid event type")
			return
		}
		record.Type = eventType
	}
	if payload.Amount != nil {
		record.Amount = payload.Amount
	}
	if payload.Side != nil {
		record.Side = parser.NormalizeSide(*payload.Side)
	}
	if payload.FeedingType != nil {
		record.FeedingType = parser.NormalizeFeedingType(*payload.FeedingType)
	}
	if payload.Duration != nil {
		record.Duration = payload.Duration
	}
	if payload.Note != nil {
		record.Note = strings.TrimSpace(*payload.Note)
	}
	if payload.RecordTime != nil {
		record.RecordTime = timeutil.ResolveRecordTime(*payload.RecordTime, record.RecordTime)
	}
	if payload.Status != nil {
		if !validUpdateStatus(*payload.Status) {
			writeError(c, http.StatusBadRequest, "status must be pending or confirmed")
			return
		}
		record.Status = *payload.Status
	} else if record.Status == recordStatusPending {
		// Any manual edit counts as confirmation.
		record.Status = recordStatusConfirmed
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "FeedingRecord"
		 SET type = $3, amount = $4, side = $5, "feedingType" = $6, duration = $7, note = $8, "recordTime" = $9, status = $10, "updatedAt" = NOW()
		 WHERE id = $1 AND "familyId" = $2`,
		recordID,
		user.FamilyID,
		record.Type,
		record.Amount,
		record.Side,
		record.FeedingType,
		record.Duration,
		record.Note,
		record.RecordTime,
		record.Status,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update record")
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": record})
}

func (a *App) deleteRecord(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	recordID := c.Param("id")

	tag, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "FeedingRecord" SET status = $3, "updatedAt" = NOW()
		 WHERE id = $1 AND "familyId" = $2 AND status != $3`,
		recordID,
		user.FamilyID,
		recordStatusDeleted,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete record")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Record not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
