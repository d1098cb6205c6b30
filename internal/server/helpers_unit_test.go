package server

import (
	"strings"
	"testing"
	"time"

	"github.com/evarainy/babycare/internal/parser"
)

func TestClaimHasAudience(t *testing.T) {
	if !claimHasAudience("expected", "expected") {
		t.Fatalf("expected string audience to match")
	}
	if claimHasAudience("other", "expected") {
		t.Fatalf("expected mismatched string audience to fail")
	}
	if !claimHasAudience([]any{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []any audience to match")
	}
	if !claimHasAudience([]string{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []string audience to match")
	}
	if claimHasAudience(nil, "expected") {
		t.Fatalf("expected nil audience to fail")
	}
}

func TestRecordStatusFor(t *testing.T) {
	if recordStatusFor(true) != recordStatusPending {
		t.Fatalf("expected pending status for unconfirmed event")
	}
	if recordStatusFor(false) != recordStatusConfirmed {
		t.Fatalf("expected confirmed status")
	}
}

func TestNormalizeSource(t *testing.T) {
	if normalizeSource(" Bot ") != sourceBot {
		t.Fatalf("expected bot source")
	}
	if normalizeSource("carrier-pigeon") != sourceManual {
		t.Fatalf("expected unknown source to default to manual")
	}
	if normalizeSource("") != sourceManual {
		t.Fatalf("expected empty source to default to manual")
	}
}

func TestNormalizeGender(t *testing.T) {
	if normalizeGender("男") != "male" {
		t.Fatalf("expected 男 to normalize to male")
	}
	if normalizeGender("Girl") != "female" {
		t.Fatalf("expected Girl to normalize to female")
	}
	if normalizeGender("???") != "unknown" {
		t.Fatalf("expected fallback to unknown")
	}
}

func TestRandomCodeAlphabet(t *testing.T) {
	code, err := randomCode(6)
	if err != nil {
		t.Fatalf("randomCode failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 characters, got %q", code)
	}
	for _, r := range code {
		if !strings.ContainsRune(bindCodeCharset, r) {
			t.Fatalf("character %q outside charset", r)
		}
	}
	if strings.ContainsAny(code, "0O1I") {
		t.Fatalf("code %q contains ambiguous characters", code)
	}
}

func TestBindCommandRe(t *testing.T) {
	match := bindCommandRe.FindStringSubmatch("绑定 ABC234")
	if match == nil || match[1] != "ABC234" {
		t.Fatalf("expected bind command to match, got %v", match)
	}
	if bindCommandRe.FindStringSubmatch("绑定AB23XY") == nil {
		t.Fatalf("expected bind without space to match")
	}
	if bindCommandRe.FindStringSubmatch("绑定 TOOLONG1") != nil {
		t.Fatalf("expected over-length code to be rejected")
	}
	if bindCommandRe.FindStringSubmatch("请帮我绑定一下") != nil {
		t.Fatalf("expected prose to be rejected")
	}
}

func TestEventLine(t *testing.T) {
	amount := 150.0
	duration := 20

	bottle := parser.ParsedEvent{Type: parser.TypeBottle, Amount: &amount}
	if got := eventLine(bottle); got != "瓶喂 150ml" {
		t.Fatalf("unexpected bottle line: %q", got)
	}

	breastfeed := parser.ParsedEvent{Type: parser.TypeBreastfeeding, Duration: &duration, Side: parser.SideLeft}
	if got := eventLine(breastfeed); got != "亲喂 20分钟 (左侧)" {
		t.Fatalf("unexpected breastfeeding line: %q", got)
	}

	other := parser.ParsedEvent{Type: parser.TypeOther, Note: "打了疫苗"}
	if got := eventLine(other); !strings.Contains(got, "打了疫苗") {
		t.Fatalf("expected note in other line, got %q", got)
	}
}

func TestSummarizeDay(t *testing.T) {
	formula := 120.0
	breastmilk := 80.0
	rice := 30.0
	base := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	records := []feedingRecord{
		{Type: parser.TypeBottle, Amount: &formula, FeedingType: parser.FeedingFormula, RecordTime: base},
		{Type: parser.TypeBottle, Amount: &breastmilk, FeedingType: parser.FeedingBreastmilk, RecordTime: base.Add(90 * time.Minute)},
		{Type: parser.TypeBreastfeeding, RecordTime: base.Add(3 * time.Hour)},
		{Type: parser.TypeFood, Amount: &rice, RecordTime: base.Add(30 * time.Minute)},
		{Type: parser.TypeDiaper, RecordTime: base.Add(time.Hour)},
		{Type: parser.TypeSleep, RecordTime: base.Add(2 * time.Hour)},
		{Type: parser.TypeSwimming, RecordTime: base.Add(4 * time.Hour)},
	}

	now := base.Add(5 * time.Hour)
	summary := summarizeDay(records, "2025-03-01", now)
	if summary.FeedingCount != 3 {
		t.Fatalf("expected 3 feedings, got %d", summary.FeedingCount)
	}
	if summary.TotalAmount != 200 {
		t.Fatalf("expected total 200, got %v", summary.TotalAmount)
	}
	if summary.FormulaAmount != 120 || summary.BreastMilkAmount != 80 {
		t.Fatalf("unexpected feeding split: formula=%v breastmilk=%v", summary.FormulaAmount, summary.BreastMilkAmount)
	}
	if summary.FoodAmount != 30 || summary.FoodCount != 1 {
		t.Fatalf("unexpected food totals: %+v", summary)
	}
	if summary.DiaperCount != 1 || summary.SleepCount != 1 {
		t.Fatalf("unexpected diaper/sleep counts: %+v", summary)
	}
	if summary.LastFeedingTime == nil || !summary.LastFeedingTime.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("unexpected last feeding time: %v", summary.LastFeedingTime)
	}
	if summary.IntervalMinutes == nil || *summary.IntervalMinutes != 120 {
		t.Fatalf("unexpected interval: %v", summary.IntervalMinutes)
	}
	if len(summary.Records) != len(records) {
		t.Fatalf("expected all records in summary, got %d", len(summary.Records))
	}
}

func TestSummarizeDayEmpty(t *testing.T) {
	summary := summarizeDay(nil, "2025-03-01", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	if summary.IntervalMinutes != nil {
		t.Fatalf("expected nil interval with no feedings, got %v", *summary.IntervalMinutes)
	}
	if summary.LastFeedingTime != nil {
		t.Fatalf("expected nil last feeding time")
	}
}

func TestValidUpdateStatus(t *testing.T) {
	if !validUpdateStatus(recordStatusPending) || !validUpdateStatus(recordStatusConfirmed) {
		t.Fatalf("expected pending and confirmed to be accepted")
	}
	if validUpdateStatus(recordStatusDeleted) {
		t.Fatalf("deleted must not be settable via update")
	}
}

func TestTruncateString(t *testing.T) {
	if truncateString("abcdef", 4) != "abcd" {
		t.Fatalf("expected truncation to 4 characters")
	}
	if truncateString("ab", 4) != "ab" {
		t.Fatalf("expected short value unchanged")
	}
}
