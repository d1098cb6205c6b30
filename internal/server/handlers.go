package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evarainy/babycare/internal/parser"
)

const (
	recordStatusPending   = "pending"
	recordStatusConfirmed = "confirmed"
	recordStatusDeleted   = "deleted"
)

const (
	sourceManual = "manual"
	sourceVoice  = "voice"
	sourceBot    = "bot"
	sourceSiri   = "siri"
)

type parseTextRequest struct {
	Text        string `json:"text"`
	CurrentTime string `json:"currentTime"`
}

type createRecordsRequest struct {
	BabyID string               `json:"babyId"`
	Source string               `json:"source"`
	Events []parser.ParsedEvent `json:"events"`
}

type updateRecordRequest struct {
	Type        *string  `json:"type"`
	Amount      *float64 `json:"amount"`
	Side        *string  `json:"side"`
	FeedingType *string  `json:"feedingType"`
	Duration    *int     `json:"duration"`
	Note        *string  `json:"note"`
	RecordTime  *string  `json:"recordTime"`
	Status      *string  `json:"status"`
}

type bindFamilyRequest struct {
	InviteCode    string `json:"inviteCode"`
	RefreshInvite bool   `json:"refreshInvite"`
}

type updateUserRequest struct {
	NickName  string `json:"nickName"`
	AvatarUrl string `json:"avatarUrl"`
	Role      string `json:"role"`
}

type createBabyRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birthDate"`
	Gender    string `json:"gender"`
}

type selectBabyRequest struct {
	BabyID string `json:"babyId"`
}

type botWebhookRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	From    string `json:"from"`
}

type siriRecordRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	Secret string `json:"secret"`
}

func recordStatusFor(needConfirm bool) string {
	if needConfirm {
		return recordStatusPending
	}
	return recordStatusConfirmed
}

func normalizeSource(input string) string {
	source := strings.ToLower(strings.TrimSpace(input))
	switch source {
	case sourceManual, sourceVoice, sourceBot, sourceSiri:
		return source
	default:
		return sourceManual
	}
}

func normalizeGender(input string) string {
	gender := strings.ToLower(strings.TrimSpace(input))
	switch gender {
	case "male", "boy", "男":
		return "male"
	case "female", "girl", "女":
		return "female"
	default:
		return "unknown"
	}
}

func validUpdateStatus(status string) bool {
	return status == recordStatusPending || status == recordStatusConfirmed
}

func formatAmount(amount *float64) string {
	if amount == nil {
		return ""
	}
	return strconv.FormatFloat(*amount, 'f', -1, 64)
}

// eventLine renders one parsed event for a chat reply.
func eventLine(ev parser.ParsedEvent) string {
	switch ev.Type {
	case parser.TypeBreastfeeding:
		line := "亲喂"
		if ev.Duration != nil {
			line += fmt.Sprintf(" %d分钟", *ev.Duration)
		}
		if ev.Side != "" {
			line += " (" + sideLabel(ev.Side) + ")"
		}
		return line
	case parser.TypeBottle:
		line := "瓶喂"
		if ev.Amount != nil {
			line += " " + formatAmount(ev.Amount) + "ml"
		}
		return line
	case parser.TypeFood:
		line := "辅食"
		if ev.Amount != nil {
			line += " " + formatAmount(ev.Amount) + "g"
		}
		return line
	case parser.TypeSwimming:
		line := "游泳"
		if ev.Duration != nil {
			line += fmt.Sprintf(" %d分钟", *ev.Duration)
		}
		return line
	case parser.TypeDiaper:
		return "换尿布"
	case parser.TypeSleep:
		return "睡觉"
	default:
		note := strings.TrimSpace(ev.Note)
		if note == "" {
			return "其他"
		}
		return "其他: " + note
	}
}

func sideLabel(side string) string {
	switch side {
	case parser.SideLeft:
		return "左侧"
	case parser.SideRight:
		return "右侧"
	default:
		return "双侧"
	}
}
