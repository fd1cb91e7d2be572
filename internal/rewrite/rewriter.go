package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/internal/telemetry"
	"github.com/contentops/tailor/models"
)

// Rewriter turns generic page content into a segment-specific variant via the
// LLM backend. The correctness contract is field-for-field substitution: the
// output field set must equal the input field set.
type Rewriter struct {
	provider  Provider
	config    config.LLMConfig
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewRewriter(cfg config.LLMConfig, provider Provider, tele *telemetry.Telemetry) *Rewriter {
	return &Rewriter{
		provider:  provider,
		config:    cfg,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[REWRITE] ", log.LstdFlags),
	}
}

// Rewrite sends the page content and segment to the LLM and parses the
// response back into the input's field shape. The call is bounded by the
// configured LLM timeout; exceeding it yields models.ErrRewriteTimeout,
// anything else that goes wrong yields models.ErrRewriteFailed.
func (r *Rewriter) Rewrite(ctx context.Context, content models.PageContent, segment models.Segment) (models.PageContent, error) {
	if len(content.Fields) == 0 {
		return models.PageContent{}, fmt.Errorf("%w: page %q has no fields", models.ErrRewriteFailed, content.PageID)
	}

	prompt := BuildRewritePrompt(content, segment)

	callCtx := ctx
	var cancel context.CancelFunc
	if r.config.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	out, inTok, outTok, err := r.provider.GenerateWithTokens(callCtx, prompt, r.config.Model, map[string]interface{}{
		"temperature": r.config.Temperature,
	})
	elapsed := time.Since(started)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return models.PageContent{}, fmt.Errorf("%w: %v", models.ErrRewriteTimeout, err)
		}
		return models.PageContent{}, fmt.Errorf("%w: %v", models.ErrRewriteFailed, err)
	}

	if r.telemetry != nil {
		r.telemetry.RecordRewrite(telemetry.RewriteEvent{
			Model:        r.config.Model,
			Duration:     elapsed,
			InputTokens:  inTok,
			OutputTokens: outTok,
			Cost:         r.provider.CalculateCost(inTok, outTok),
		})
	}

	rewritten, err := parseRewrite(content, out)
	if err != nil {
		r.logger.Printf("rejecting rewrite for page %s segment %s: %v", content.PageID, segment, err)
		return models.PageContent{}, err
	}
	return rewritten, nil
}

// parseRewrite validates the LLM output against the input field shape and
// rebuilds the page content in the original field order.
func parseRewrite(input models.PageContent, raw string) (models.PageContent, error) {
	var parsed struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal([]byte(ExtractFirstJSON(raw)), &parsed); err != nil {
		return models.PageContent{}, fmt.Errorf("%w: malformed response: %v", models.ErrRewriteFailed, err)
	}
	if parsed.Fields == nil {
		return models.PageContent{}, fmt.Errorf("%w: response has no fields object", models.ErrRewriteFailed)
	}

	out := models.PageContent{
		PageID: input.PageID,
		Title:  input.Title,
		URL:    input.URL,
		Fields: make([]models.Field, len(input.Fields)),
	}
	for i, f := range input.Fields {
		value, ok := parsed.Fields[f.Name]
		if !ok {
			return models.PageContent{}, fmt.Errorf("%w: missing field %q", models.ErrRewriteFailed, f.Name)
		}
		out.Fields[i] = models.Field{Name: f.Name, Value: value}
	}
	if len(parsed.Fields) != len(input.Fields) {
		return models.PageContent{}, fmt.Errorf("%w: response has %d fields, expected %d",
			models.ErrRewriteFailed, len(parsed.Fields), len(input.Fields))
	}
	return out, nil
}

// ExtractFirstJSON attempts to find the first top-level JSON object in a
// string. Model answers routinely wrap the object in prose, so every caller
// that parses model output should run it through here first.
func ExtractFirstJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
