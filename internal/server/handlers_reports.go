package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evarainy/babycare/internal/report"
	"github.com/evarainy/babycare/internal/timeutil"
)

func (a *App) getReport(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	now := time.Now()
	startDate := strings.TrimSpace(c.Query("startDate"))
	endDate := strings.TrimSpace(c.Query("endDate"))
	if endDate == "" {
		endDate = timeutil.LocalDateKey(now)
	}
	if startDate == "" {
		// Default window is the trailing week ending today.
		end, err := timeutil.ParseDate(endDate)
		if err != nil {
			writeError(c, http.StatusBadRequest, "endDate must be YYYY-MM-DD")
			return
		}
		startDate = end.AddDate(0, 0, -6).Format("2006-01-02")
	}

	startRange, err := timeutil.DayRangeForDate(startDate, now)
	if err != nil {
		writeError(c, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		return
	}
	endRange, err := timeutil.DayRangeForDate(endDate, now)
	if err != nil {
		writeError(c, http.StatusBadRequest, "endDate must be YYYY-MM-DD")
		return
	}
	if endRange.End.Before(startRange.Start) {
		writeError(c, http.StatusBadRequest, "endDate is before startDate")
		return
	}

	query := `SELECT ` + feedingRecordColumns + `
		 FROM "FeedingRecord"
		 WHERE "familyId" = $1 AND status = $2 AND "recordTime" BETWEEN $3 AND $4`
	args := []any{user.FamilyID, recordStatusConfirmed, startRange.Start, endRange.End}
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

	events := make([]report.Event, 0)
	for rows.Next() {
		record, err := scanFeedingRecord(rows)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to read records")
			return
		}
		events = append(events, report.Event{
			ID:          record.ID,
			Type:        record.Type,
			Amount:      record.Amount,
			Side:        record.Side,
			FeedingType: record.FeedingType,
			Duration:    record.Duration,
			Note:        record.Note,
			RecordTime:  record.RecordTime,
		})
	}
	if rows.Err() != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read records")
		return
	}

	built, err := report.Build(events, startDate, endDate)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"startDate": startDate,
		"endDate":   endDate,
		"buckets":   built.Buckets,
		"summary":   built.Summary,
	})
}
