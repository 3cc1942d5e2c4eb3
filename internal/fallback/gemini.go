// Package fallback parses notification text that no registry rule matched by
// asking a Gemini model for a structured extraction. It is a last resort:
// candidates it produces are always flagged for review downstream.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/seojinlee/notiledger/internal/parse"
	"github.com/seojinlee/notiledger/internal/source"
)

// DefaultModelName is the Gemini model used for fallback extraction.
const DefaultModelName = "gemini-2.0-flash"

const basePrompt = "You are a parser for bank and card push notifications.\n\n" +
	"Task:\n" +
	"- Extract the single transaction described by the attached notification text.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a single JSON object.\n\n" +
	"The object must have these fields:\n" +
	"- \"amount\": integer, smallest currency unit, always positive\n" +
	"- \"direction\": string, \"DEBIT\" for money out or \"CREDIT\" for money in\n" +
	"- \"merchant\": string or null\n" +
	"- \"account_tail\": string or null (last 3-4 digits of the account, if present)\n" +
	"- \"sender_name\": string or null (depositor name, if the text names one)\n" +
	"- \"balance_after\": integer or null\n\n" +
	"Rules:\n" +
	"- If the text does not describe a money movement, set \"amount\" to 0.\n" +
	"- Never guess the direction; if it is unclear, set \"amount\" to 0.\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Do NOT use ```json or any Markdown.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

type modelCandidate struct {
	Amount       int64  `json:"amount"`
	Direction    string `json:"direction"`
	Merchant     string `json:"merchant"`
	AccountTail  string `json:"account_tail"`
	SenderName   string `json:"sender_name"`
	BalanceAfter *int64 `json:"balance_after"`
}

// Parser asks a Gemini model to extract a candidate from unmatched text. It
// implements the engine's fallback contract.
type Parser struct {
	client *genai.Client
	model  string
	reg    *source.Registry
	log    zerolog.Logger
}

// NewParser creates a model-backed fallback parser. Credentials come from
// the genai client's ambient configuration.
func NewParser(ctx context.Context, reg *source.Registry, log zerolog.Logger) (*Parser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewParser: create genai client: %w", err)
	}
	return &Parser{client: client, model: DefaultModelName, reg: reg, log: log}, nil
}

// Parse sends the raw text to the model and converts its answer into a
// candidate. A zero-amount answer means the model saw no transaction and is
// reported as a no-rule-matched failure so the caller's handling stays
// uniform.
func (p *Parser) Parse(ctx context.Context, sourceID, rawText string, postedAt time.Time) (*parse.Candidate, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: basePrompt},
				{Text: "Notification text:\n" + rawText},
			},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("fallback.Parse: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("fallback.Parse: empty response from model")
	}

	var mc modelCandidate
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &mc); err != nil {
		return nil, fmt.Errorf("fallback.Parse: unmarshal JSON: %w", err)
	}
	if mc.Amount <= 0 {
		return nil, &parse.Error{Kind: parse.KindNoRuleMatched, SourceID: sourceID, Detail: "model saw no transaction"}
	}

	var dir parse.Direction
	switch strings.ToUpper(strings.TrimSpace(mc.Direction)) {
	case "DEBIT":
		dir = parse.DirectionDebit
	case "CREDIT":
		dir = parse.DirectionCredit
	default:
		return nil, &parse.Error{Kind: parse.KindAmbiguousDirection, SourceID: sourceID, Detail: fmt.Sprintf("model direction %q", mc.Direction)}
	}

	sourceName := sourceID
	if src, ok := p.reg.Lookup(sourceID); ok {
		sourceName = src.DisplayName
	}

	p.log.Debug().Str("source_id", sourceID).Int64("amount", mc.Amount).Msg("Model fallback produced a candidate")
	return &parse.Candidate{
		SourceID:     sourceID,
		SourceName:   sourceName,
		Amount:       mc.Amount,
		Direction:    dir,
		Merchant:     mc.Merchant,
		AccountTail:  mc.AccountTail,
		BalanceAfter: mc.BalanceAfter,
		SenderName:   mc.SenderName,
		RawText:      rawText,
		PostedAt:     postedAt,
	}, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk if the model
// ignored the formatting instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
