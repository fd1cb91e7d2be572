// Package segment resolves a visitor identifier to an industry segment using
// the customer-data platform.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/internal/httpclient"
	"github.com/contentops/tailor/internal/rewrite"
	"github.com/contentops/tailor/models"
)

const visitorKeyPrefix = "segment:visitor:"

// consumer mail providers carry no organization signal, so their domains are
// never sent to the classifier.
var consumerDomains = map[string]struct{}{
	"gmail.com":   {},
	"outlook.com": {},
	"hotmail.com": {},
	"yahoo.com":   {},
	"icloud.com":  {},
}

// Resolver maps visitor ids to segments. Resolved segments are cached in
// Redis for a session window so repeat requests skip the CDP round trip.
type Resolver struct {
	config   config.CDPConfig
	segCfg   config.SegmentConfig
	http     *httpclient.Client
	rdb      *redis.Client
	llm      rewrite.Provider
	llmModel string
	logger   *log.Logger
}

func NewResolver(cfg config.CDPConfig, segCfg config.SegmentConfig, rdb *redis.Client, llm rewrite.Provider, llmModel string) *Resolver {
	return &Resolver{
		config:   cfg,
		segCfg:   segCfg,
		http:     httpclient.New(cfg.Timeout, cfg.MaxRetries, 0),
		rdb:      rdb,
		llm:      llm,
		llmModel: llmModel,
		logger:   log.New(log.Writer(), "[CDP] ", log.LstdFlags),
	}
}

// Resolve returns the industry segment for a visitor. An unknown visitor, an
// unreachable CDP, or a profile without a usable industry signal all yield
// models.ErrSegmentUnavailable; the orchestrator decides the fallback.
func (r *Resolver) Resolve(ctx context.Context, visitorID string) (models.Segment, error) {
	if visitorID == "" {
		return "", fmt.Errorf("%w: empty visitor id", models.ErrSegmentUnavailable)
	}

	if seg, ok := r.cached(ctx, visitorID); ok {
		return seg, nil
	}

	profile, err := r.fetchProfile(ctx, visitorID)
	if err != nil {
		return "", err
	}

	seg := normalize(profile.Segment)
	if seg == "" {
		seg = normalize(profile.Industry)
	}
	if seg == "" && r.segCfg.ClassifyEmailDomains {
		seg, err = r.classifyDomain(ctx, profile.EmailDomain)
		if err != nil {
			return "", err
		}
	}
	if seg == "" {
		return "", fmt.Errorf("%w: visitor %q has no industry signal", models.ErrSegmentUnavailable, visitorID)
	}

	r.cache(ctx, visitorID, seg)
	return models.Segment(seg), nil
}

type profile struct {
	Segment     string `json:"segment"`
	Industry    string `json:"industry"`
	EmailDomain string `json:"email_domain"`
}

func (r *Resolver) fetchProfile(ctx context.Context, visitorID string) (profile, error) {
	endpoint := fmt.Sprintf("%s/entity/user/_uid/%s", r.config.BaseURL, visitorID)
	headers := map[string]string{"Authorization": r.config.APIKey}

	var resp struct {
		Data profile `json:"data"`
	}
	if err := r.http.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		return profile{}, fmt.Errorf("%w: visitor %q: %v", models.ErrSegmentUnavailable, visitorID, err)
	}
	return resp.Data, nil
}

// classifyDomain asks the LLM for the industry behind a business email
// domain. Consumer domains are skipped outright.
func (r *Resolver) classifyDomain(ctx context.Context, domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || r.llm == nil {
		return "", nil
	}
	if _, consumer := consumerDomains[domain]; consumer {
		r.logger.Printf("skipping consumer mail domain %s", domain)
		return "", nil
	}

	out, err := r.llm.Generate(ctx, rewrite.BuildDomainPrompt(domain), r.llmModel, map[string]interface{}{"temperature": 0.2})
	if err != nil {
		return "", fmt.Errorf("%w: classifying domain %q: %v", models.ErrSegmentUnavailable, domain, err)
	}
	var parsed struct {
		Industry string `json:"industry"`
	}
	if err := json.Unmarshal([]byte(rewrite.ExtractFirstJSON(out)), &parsed); err != nil {
		r.logger.Printf("unparseable classifier answer for domain %s: %v", domain, err)
		return "", nil
	}
	industry := normalize(parsed.Industry)
	if industry == "not found" {
		return "", nil
	}
	r.logger.Printf("classified domain %s as %q", domain, industry)
	return industry, nil
}

func (r *Resolver) cached(ctx context.Context, visitorID string) (models.Segment, bool) {
	if r.rdb == nil || r.segCfg.SessionTTL <= 0 {
		return "", false
	}
	val, err := r.rdb.Get(ctx, visitorKeyPrefix+visitorID).Result()
	if err != nil || val == "" {
		return "", false
	}
	return models.Segment(val), true
}

// cache is best effort: a write failure only costs an extra CDP lookup.
func (r *Resolver) cache(ctx context.Context, visitorID, seg string) {
	if r.rdb == nil || r.segCfg.SessionTTL <= 0 {
		return
	}
	if err := r.rdb.Set(ctx, visitorKeyPrefix+visitorID, seg, r.segCfg.SessionTTL).Err(); err != nil {
		r.logger.Printf("segment cache write for visitor %s failed: %v", visitorID, err)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
