package robot

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/types"
)

// defaultMaxClaims bounds distillation when the payload does not say.
const defaultMaxClaims = 12

var (
	distillTmpl  = template.Must(template.New("distill").Parse(distillPromptTemplate))
	compareTmpl  = template.Must(template.New("compare").Parse(comparePromptTemplate))
	classifyTmpl = template.Must(template.New("classify").Parse(classifyPromptTemplate))
)

type distillData struct {
	MaxClaims     int
	Content       string
	ContextClaims []types.Claim
}

// buildDistillPrompt renders the claim extraction prompt. Sibling
// claims from already-distilled fragments steer the model toward
// additions instead of restatements.
func buildDistillPrompt(p *pipeline.DistillPayload) (string, error) {
	data := distillData{
		MaxClaims:     p.MaxClaims,
		Content:       p.Content,
		ContextClaims: p.ContextClaims,
	}
	if data.MaxClaims <= 0 {
		data.MaxClaims = defaultMaxClaims
	}
	return render(distillTmpl, data)
}

type compareData struct {
	Existing string
	New      string
}

// buildComparePrompt renders the novelty/contradiction prompt with the
// peer's claims numbered A1..An and the entry's numbered B1..Bn. The
// model answers in those coordinates.
func buildComparePrompt(p *pipeline.ComparePayload) (string, error) {
	return render(compareTmpl, compareData{
		Existing: numberClaims("A", p.ClaimsA),
		New:      numberClaims("B", p.ClaimsB),
	})
}

type classifyData struct {
	Claims []types.Claim
	Topics []string
}

func buildClassifyPrompt(p *pipeline.ClassifyPayload) (string, error) {
	return render(classifyTmpl, classifyData{Claims: p.Claims, Topics: p.AvailableTopics})
}

func render(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

func numberClaims(prefix string, claims []types.Claim) string {
	var b strings.Builder
	for i, c := range claims {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s%d. %s", prefix, i+1, c.Text)
	}
	return b.String()
}

// extractJSON peels a markdown code fence off a model response. Lines
// that are themselves fence markers are dropped; everything else is
// kept verbatim.
func extractJSON(text string) []byte {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return []byte(text)
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return []byte(strings.Join(kept, "\n"))
}

// parseDistillResult decodes the model's claim list and insists every
// claim carries text.
func parseDistillResult(response string) (*pipeline.DistillResult, error) {
	var res pipeline.DistillResult
	if err := json.Unmarshal(extractJSON(response), &res); err != nil {
		return nil, fmt.Errorf("parse distill result: %w (response: %s)", err, clip(response))
	}
	if len(res.Claims) == 0 {
		return nil, fmt.Errorf("parse distill result: no claims (response: %s)", clip(response))
	}
	for i, c := range res.Claims {
		if strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("parse distill result: claim %d has no text", i+1)
		}
	}
	return &res, nil
}

// compareClassification is one line of the model's verdict, indexed in
// the prompt's 1-based A/B coordinates.
type compareClassification struct {
	NewClaim        int      `json:"new_claim"`
	Type            string   `json:"type"`
	MatchesExisting int      `json:"matches_existing,omitempty"`
	ConflictsWith   int      `json:"conflicts_with,omitempty"`
	Severity        *float64 `json:"severity,omitempty"`
}

// parseCompareResult turns per-claim classifications into scores:
// entropy is the NOVEL share of the entry's claims, friction the
// CONTRADICTS share, both rounded to the pipeline's four decimals.
// Contradictions are reported as claim text pairs; severity defaults
// to 0.5 when the model omits it.
func parseCompareResult(response string, p *pipeline.ComparePayload) (*pipeline.CompareResult, error) {
	var body struct {
		Classifications []compareClassification `json:"classifications"`
	}
	if err := json.Unmarshal(extractJSON(response), &body); err != nil {
		return nil, fmt.Errorf("parse compare result: %w (response: %s)", err, clip(response))
	}

	var novel, contradict int
	var contradictions []types.Contradiction
	for _, c := range body.Classifications {
		switch strings.ToUpper(c.Type) {
		case "NOVEL":
			novel++
		case "CONTRADICTS":
			contradict++
			claimA := "?"
			if i := c.ConflictsWith - 1; i >= 0 && i < len(p.ClaimsA) {
				claimA = p.ClaimsA[i].Text
			}
			claimB := "?"
			if i := c.NewClaim - 1; i >= 0 && i < len(p.ClaimsB) {
				claimB = p.ClaimsB[i].Text
			}
			severity := 0.5
			if c.Severity != nil {
				severity = *c.Severity
			}
			contradictions = append(contradictions, types.Contradiction{
				ClaimA:   claimA,
				ClaimB:   claimB,
				Severity: severity,
			})
		}
	}

	var entropy, friction float64
	if n := len(p.ClaimsB); n > 0 {
		entropy = float64(novel) / float64(n)
		friction = float64(contradict) / float64(n)
	}

	return &pipeline.CompareResult{
		Entropy:         types.RoundScore(entropy),
		Friction:        types.RoundScore(friction),
		Contradictions:  contradictions,
		ComparedAgainst: p.CompareAgainstID,
	}, nil
}

// parseClassifyResult decodes the topic verdict. A null new_topic
// decodes to empty, meaning an existing topic fit.
func parseClassifyResult(response string) (*pipeline.ClassifyResult, error) {
	var res pipeline.ClassifyResult
	if err := json.Unmarshal(extractJSON(response), &res); err != nil {
		return nil, fmt.Errorf("parse classify result: %w (response: %s)", err, clip(response))
	}
	if res.PrimaryTopic == "" && res.NewTopic == "" {
		return nil, fmt.Errorf("parse classify result: no topic chosen (response: %s)", clip(response))
	}
	return &res, nil
}

// clip shortens a model response for error messages.
func clip(s string) string {
	const max = 200
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

const distillPromptTemplate = `You are distilling a document into its top {{.MaxClaims}} factual claims.
{{if .ContextClaims}}
CONTEXT - this document is part of a larger collection about:
{{range .ContextClaims}}- {{.Text}}
{{end}}
Focus on claims that ADD to this context, not repeat it.
{{end}}
DOCUMENT:
{{.Content}}

Extract the top {{.MaxClaims}} most important factual claims from this document.
Each claim should be:
- A single declarative sentence
- Self-contained (understandable without the document)
- Specific (not vague or generic)
- Non-redundant with other claims in your list

Order by importance (most central claim first).

Respond as JSON only, no other text:
{
  "claims": [
    { "text": "...", "confidence": 0.95 }
  ]
}`

const comparePromptTemplate = `You are comparing two sets of claims to measure novelty and contradiction.

EXISTING CLAIMS:
{{.Existing}}

NEW CLAIMS:
{{.New}}

For each NEW claim (B1, B2, ...), classify it as:
- NOVEL: covers a topic that no existing claim addresses
- REDUNDANT: semantically equivalent to an existing claim
- CONTRADICTS: makes a statement that conflicts with an existing claim

Be precise about contradiction vs. mere difference:
- "The earth is flat" vs "The earth is round" = CONTRADICTS (opposite conclusions)
- "The earth is round" vs "Mars is red" = NOVEL (different topics)
- "The earth is round" vs "The earth is approximately spherical" = REDUNDANT

Respond as JSON only, no other text:
{
  "classifications": [
    { "new_claim": 1, "type": "NOVEL" },
    { "new_claim": 2, "type": "REDUNDANT", "matches_existing": 4 },
    { "new_claim": 3, "type": "CONTRADICTS", "conflicts_with": 7, "severity": 0.8 }
  ]
}`

const classifyPromptTemplate = `Given these claims from a document:
{{range .Claims}}- {{.Text}}
{{end}}
Which of these topics does this document best belong to?
{{range .Topics}}- {{.}}
{{end}}
If none fit well, suggest a new topic name.

Respond as JSON only, no other text:
{
  "primary_topic": "topic-name",
  "secondary_topics": [],
  "new_topic": null
}`
