// Package report turns persisted feeding events into per-day buckets and
// summary statistics over an inclusive local-date range.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/evarainy/babycare/internal/parser"
	"github.com/evarainy/babycare/internal/timeutil"
)

// Event is one persisted feeding record as the aggregator sees it.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      *float64  `json:"amount"`
	Side        string    `json:"side,omitempty"`
	FeedingType string    `json:"feedingType,omitempty"`
	Duration    *int      `json:"duration"`
	Note        string    `json:"note"`
	RecordTime  time.Time `json:"recordTime"`
}

// Bucket is one local calendar day in the report. Days with no events are
// still emitted with an empty event list.
type Bucket struct {
	Date        string  `json:"date"`
	Events      []Event `json:"events"`
	TotalAmount float64 `json:"totalAmount"`
	Count       int     `json:"count"`
}

type Summary struct {
	TotalAmount        float64  `json:"totalAmount"`
	AvgDailyAmount     float64  `json:"avgDailyAmount"`
	AvgDailyCount      float64  `json:"avgDailyCount"`
	AvgIntervalMinutes *float64 `json:"avgIntervalMinutes"`
	TotalCount         int      `json:"totalCount"`
}

type Report struct {
	Buckets []Bucket `json:"buckets"`
	Summary Summary  `json:"summary"`
}

func isFeeding(eventType string) bool {
	return eventType == parser.TypeBreastfeeding || eventType == parser.TypeBottle
}

// Build aggregates events into one bucket per calendar day from startDate to
// endDate inclusive. Only breastfeeding and bottle events participate in
// amount and interval math; everything else is ignored.
func Build(events []Event, startDate, endDate string) (Report, error) {
	start, err := timeutil.ParseDate(startDate)
	if err != nil {
		return Report{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := timeutil.ParseDate(endDate)
	if err != nil {
		return Report{}, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return Report{}, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}

	feeding := make([]Event, 0, len(events))
	for _, ev := range events {
		if isFeeding(ev.Type) {
			feeding = append(feeding, ev)
		}
	}
	sort.Slice(feeding, func(i, j int) bool {
		return feeding[i].RecordTime.Before(feeding[j].RecordTime)
	})

	byDay := make(map[string][]Event, len(feeding))
	for _, ev := range feeding {
		key := timeutil.LocalDateKey(ev.RecordTime)
		byDay[key] = append(byDay[key], ev)
	}

	var report Report
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		bucket := Bucket{Date: key, Events: []Event{}}
		for _, ev := range byDay[key] {
			bucket.Events = append(bucket.Events, ev)
			bucket.Count++
			if ev.Amount != nil {
				bucket.TotalAmount += *ev.Amount
			}
		}
		report.Buckets = append(report.Buckets, bucket)
	}

	days := float64(len(report.Buckets))
	for _, bucket := range report.Buckets {
		report.Summary.TotalAmount += bucket.TotalAmount
		report.Summary.TotalCount += bucket.Count
	}
	report.Summary.AvgDailyAmount = math.Round(report.Summary.TotalAmount / days)
	report.Summary.AvgDailyCount = math.Round(float64(report.Summary.TotalCount)/days*10) / 10
	report.Summary.AvgIntervalMinutes = averageInterval(feeding)
	return report, nil
}

// averageInterval is the mean absolute gap in minutes between chronologically
// adjacent feeding events, nil when fewer than two exist.
func averageInterval(feeding []Event) *float64 {
	if len(feeding) < 2 {
		return nil
	}
	var totalMinutes float64
	for i := 1; i < len(feeding); i++ {
		gap := feeding[i].RecordTime.Sub(feeding[i-1].RecordTime).Minutes()
		totalMinutes += math.Abs(gap)
	}
	avg := math.Round(totalMinutes / float64(len(feeding)-1))
	return &avg
}
