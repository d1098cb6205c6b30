package parser

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

const systemPrompt = `你是育婴记录助手。从用户输入提取多条育婴记录，返回JSON数组。

记录类型：
- breastfeeding:亲喂(左/右/双侧)，只记录时长(分钟)，无量
- bottle:瓶喂(奶粉/母乳/水/补剂)，记录ml量
- food:辅食，记录g量
- swimming:游泳，记录时长(分钟)
- diaper:换尿布
- sleep:睡眠，记录时长(分钟)
- other:其他

返回格式：[{"type":"类型","amount":数字或null,"side":"左|右|双"或null,"feedingType":"奶粉|母乳|水|补剂"或null,"duration":数字或null,"note":"备注","recordTime":"HH:mm"或null,"confidence":0-1,"needConfirm":true|false}]

规则：
1.亲喂未说明左右则默认双侧
2.瓶喂未说明类型则默认奶粉
3.时间按顺序推断：根据当前时间+文本中的相对时间(早上8点、12点、下午2点等)
4.一条记录一个JSON对象，多条记录返回数组

示例：
"奶粉150" → [{"type":"bottle","amount":150,"side":null,"feedingType":"奶粉","duration":null,"note":"","recordTime":null,"confidence":0.9,"needConfirm":false}]
"亲喂20分钟" → [{"type":"breastfeeding","amount":null,"side":"双","feedingType":null,"duration":20,"note":"","recordTime":null,"confidence":0.9,"needConfirm":false}]`

// ErrEmptyInput is returned for blank text before any extraction is tried.
var ErrEmptyInput = errors.New("input text is empty")

// GatewayConfig carries everything the gateway needs; it is injected at
// construction so tests never have to mutate process environment.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Outcome is the terminal parse result. UsedFallback marks events produced
// by the deterministic extractor, with FallbackReason saying why the model
// path was skipped or failed.
type Outcome struct {
	Events         []ParsedEvent `json:"events"`
	UsedFallback   bool          `json:"usedFallback"`
	FallbackReason string        `json:"fallbackReason,omitempty"`
}

// CallTiming is a per-call timing breakdown, assembled once after the call
// completes. It is logged for observability and never influences control
// flow.
type CallTiming struct {
	DNS      time.Duration
	Connect  time.Duration
	TLS      time.Duration
	TTFB     time.Duration
	Download time.Duration
	Total    time.Duration
}

// Gateway parses free text into care events, preferring the configured
// language model and falling back to rule-based extraction on any failure.
// Model failures are absorbed here; callers only ever see an Outcome.
type Gateway struct {
	cfg        GatewayConfig
	httpClient *http.Client
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "qwen-turbo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// Parse extracts events from text. currentTime, when given, is prepended to
// the user message so the model can anchor relative time expressions.
func (g *Gateway) Parse(ctx context.Context, text, currentTime string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, ErrEmptyInput
	}

	if g.cfg.BaseURL == "" || strings.TrimSpace(g.cfg.APIKey) == "" {
		return Outcome{
			Events:         ExtractEvents(text),
			UsedFallback:   true,
			FallbackReason: "model not configured",
		}, nil
	}

	events, err := g.callModel(ctx, text, currentTime)
	if err != nil {
		log.Printf("model parse failed, using rule fallback: %v", err)
		return Outcome{
			Events:         ExtractEvents(text),
			UsedFallback:   true,
			FallbackReason: err.Error(),
		}, nil
	}
	return Outcome{Events: events}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	Stream         bool          `json:"stream"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *Gateway) callModel(ctx context.Context, text, currentTime string) ([]ParsedEvent, error) {
	userMessage := "用户输入：" + text
	if strings.TrimSpace(currentTime) != "" {
		userMessage = "当前时间：" + currentTime + "\n" + userMessage
	}

	payload := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	}
	payload.ResponseFormat.Type = "json_object"

	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	// The hard timeout also kills the in-flight socket, so a stalled model
	// endpoint cannot leak connections.
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	started := time.Now()
	var dnsStart, dnsDone, connectStart, connectDone, tlsStart, tlsDone, firstByte time.Time
	trace := &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { dnsDone = time.Now() },
		ConnectStart:         func(string, string) { connectStart = time.Now() },
		ConnectDone:          func(string, string, error) { connectDone = time.Now() },
		TLSHandshakeStart:    func() { tlsStart = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { tlsDone = time.Now() },
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}

	request, err := http.NewRequestWithContext(
		httptrace.WithClientTrace(callCtx, trace),
		http.MethodPost,
		g.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(bodyRaw),
	)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("model request timed out after %s", g.cfg.Timeout)
		}
		return nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	finished := time.Now()
	logCallTiming(assembleTiming(started, dnsStart, dnsDone, connectStart, connectDone, tlsStart, tlsDone, firstByte, finished))
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("model endpoint returned HTTP %d: %s", response.StatusCode, truncate(string(responseBody), 300))
	}

	var decoded chatResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return nil, fmt.Errorf("model response is not valid JSON: %s", truncate(string(responseBody), 200))
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return nil, errors.New("model response has no content field")
	}

	rawEvents := RecoverEventList(decoded.Choices[0].Message.Content)
	if rawEvents == nil {
		return nil, errors.New("model content is not a recoverable event list")
	}
	return DecodeEvents(rawEvents), nil
}

func assembleTiming(started, dnsStart, dnsDone, connectStart, connectDone, tlsStart, tlsDone, firstByte, finished time.Time) CallTiming {
	timing := CallTiming{Total: finished.Sub(started)}
	if !dnsStart.IsZero() && !dnsDone.IsZero() {
		timing.DNS = dnsDone.Sub(dnsStart)
	}
	if !connectStart.IsZero() && !connectDone.IsZero() {
		timing.Connect = connectDone.Sub(connectStart)
	}
	if !tlsStart.IsZero() && !tlsDone.IsZero() {
		timing.TLS = tlsDone.Sub(tlsStart)
	}
	if !firstByte.IsZero() {
		timing.TTFB = firstByte.Sub(started)
		timing.Download = finished.Sub(firstByte)
	}
	return timing
}

func logCallTiming(timing CallTiming) {
	log.Printf(
		"model call timing dns=%s connect=%s tls=%s ttfb=%s download=%s total=%s",
		timing.DNS, timing.Connect, timing.TLS, timing.TTFB, timing.Download, timing.Total,
	)
}

func truncate(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}
