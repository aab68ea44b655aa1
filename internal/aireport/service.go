// Package aireport writes civic summaries of pothole reports and answers
// assistant chat messages through a text generation model.
package aireport

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/potholewatch/potholewatch/internal/logger"
)

// Fallback texts returned instead of errors.
const (
	SummaryUnavailable = "Unable to generate AI report at this time."
	ChatEmptyReply     = "Sorry, I could not process that. Please try again."
	ChatFailed         = "I encountered an error. Please try again."
)

const chatSystemPrompt = `You are a helpful AI assistant for a pothole detection and civic reporting platform.
Help users report potholes, track their reports, understand detection results, and guide them through the process.
Be concise, friendly, and actionable. Do not use emojis in your responses.`

// Request describes a reported pothole.
type Request struct {
	Complaint  string   `json:"complaint"`
	Severity   string   `json:"severity"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	Confidence *float64 `json:"confidence,omitempty"`
	AreaPixels *float64 `json:"areaPixels,omitempty"`
}

// Summary is the structured civic report.
type Summary struct {
	Summary           string `json:"summary"`
	RiskLevel         string `json:"riskLevel,omitempty"`
	RecommendedAction string `json:"recommendedAction,omitempty"`
	CivicImpact       string `json:"civicImpact,omitempty"`
}

// Service wraps a Generator with prompts and fallbacks.
type Service struct {
	gen     Generator
	timeout time.Duration
	log     logger.Logger
}

// NewService returns a service using gen. A zero timeout leaves the caller's
// deadline in charge.
func NewService(gen Generator, timeout time.Duration, log logger.Logger) *Service {
	if gen == nil {
		gen = Disabled{}
	}
	if log == nil {
		log = logger.Global().Module("aireport")
	}
	return &Service{gen: gen, timeout: timeout, log: log}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// jsonBlock matches from the first '{' to the last '}'.
var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// Summarize never fails: generation errors yield SummaryUnavailable and
// unparsable replies become the summary text.
func (s *Service) Summarize(ctx context.Context, req Request) Summary {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	text, err := s.gen.Generate(ctx, "", []Turn{{Role: RoleUser, Text: summaryPrompt(req)}})
	if err != nil {
		s.log.Warn("AI report generation failed", logger.Error(err))
		return Summary{Summary: SummaryUnavailable}
	}

	if block := jsonBlock.FindString(text); block != "" {
		var out Summary
		if err := json.Unmarshal([]byte(block), &out); err == nil {
			return out
		}
		s.log.Debug("AI report is not valid JSON", logger.Int("length", len(text)))
	}
	return Summary{Summary: text}
}

func summaryPrompt(req Request) string {
	return fmt.Sprintf(`A pothole has been reported with the following details:
- Location: %.4f, %.4f
- Severity Level: %s
- Complaint Description: %s
- Detection Confidence: %s
- Affected Area: %s pixels

Please generate:
1. An official summary of the pothole (2-3 sentences)
2. Risk level (low/medium/high/critical)
3. Recommended action (repair urgency)
4. Civic impact (why this matters)

Format as JSON with keys: summary, riskLevel, recommendedAction, civicImpact`,
		req.Lat, req.Lng, req.Severity, req.Complaint,
		orNA(req.Confidence, "%.2f"), orNA(req.AreaPixels, "%.0f"))
}

func orNA(v *float64, format string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf(format, *v)
}

// Chat answers message given the prior turns.
func (s *Service) Chat(ctx context.Context, message string, history []Turn) string {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	turns := make([]Turn, 0, len(history)+1)
	for _, t := range history {
		if t.Role != RoleUser {
			t.Role = RoleModel
		}
		turns = append(turns, t)
	}
	turns = append(turns, Turn{Role: RoleUser, Text: message})

	text, err := s.gen.Generate(ctx, chatSystemPrompt, turns)
	if err != nil {
		s.log.Warn("chat generation failed", logger.Error(err))
		return ChatFailed
	}
	if text == "" {
		return ChatEmptyReply
	}
	return text
}
