package rewrite

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/contentops/tailor/models"
)

// BuildRewritePrompt produces the rewrite prompt for a page and segment. The
// prompt is deterministic for a given (content, segment) pair: fields appear
// in page order and the expected output field names are listed explicitly.
func BuildRewritePrompt(content models.PageContent, segment models.Segment) string {
	var fields strings.Builder
	for _, f := range content.Fields {
		fmt.Fprintf(&fields, "- %s: %s\n", f.Name, f.Value)
	}

	var plain strings.Builder
	for _, f := range content.Fields {
		text := PlainText(f.Value)
		if text == "" {
			continue
		}
		fmt.Fprintf(&plain, "- %s\n", text)
	}

	names := strings.Join(content.FieldNames(), ", ")

	return fmt.Sprintf(`You are an expert in personalized marketing.

Your task: subtly adapt the page content below to resonate with someone in the %s sector.

CRITICAL RULES:
1. DO NOT mention the industry name, words that are very obviously related to the industry, puns, or phrases like "tailored for", "designed for", "specialized in [industry]", and don't use the same or similar wordings in every field.
2. DO personalize by:
- Emphasizing relevant challenges specific to this industry
- Highlighting services that solve their unique problems
- Using examples and scenarios they recognize
- Adjusting tone and focus to match their priorities
3. Stay conservative:
- Only adjust emphasis, examples, and specific pain points
- Never invent new products or services
- Maintain the professional tone
4. Content preservation:
- Sell the SAME products and services mentioned in the original
- Don't add features that weren't there
- Improve clarity and relevance, not scope
5. Keep the markup of each field: fields containing HTML stay HTML, plain fields stay plain.

PAGE: %q

FIELDS TO REWRITE (keep this exact field set):
%s
PAGE TEXT FOR CONTEXT:
%s
RESPONSE FORMAT:
Respond ONLY with strict JSON: {"fields": {%s}} where every key is one of [%s] and every one of them is present exactly once. Do not include any other text or explanation.`,
		segment, content.Title, fields.String(), plain.String(), `"field_name": "rewritten value", ...`, names)
}

// BuildDomainPrompt asks for the industry behind a business email domain.
// Used by the segment resolver when the CDP profile has no explicit segment.
func BuildDomainPrompt(emailDomain string) string {
	return fmt.Sprintf(`You are an expert in finding the industry behind email domains.

Your task: identify the industry or sector of the organization behind the domain %q.

CRITICAL RULES:
1. Don't hallucinate; only answer from what the domain name and common knowledge support.
2. Answer with a short lowercase label like "finance", "healthcare", "agriculture".
3. If you cannot tell, answer exactly "not found".

Respond ONLY with strict JSON: {"industry": string}. Do not include any other text.`, emailDomain)
}

// PlainText strips markup from a rich-text field value for prompt context.
func PlainText(value string) string {
	if !strings.Contains(value, "<") {
		return strings.TrimSpace(value)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(value))
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}
