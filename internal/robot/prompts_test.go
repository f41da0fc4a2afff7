package robot

import (
	"strings"
	"testing"

	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/types"
)

func TestBuildDistillPrompt(t *testing.T) {
	p := &pipeline.DistillPayload{
		EntryID:   "e-1",
		Content:   "Basalt is an extrusive igneous rock formed from rapidly cooling lava.",
		MaxClaims: 5,
	}
	prompt, err := buildDistillPrompt(p)
	if err != nil {
		t.Fatalf("buildDistillPrompt: %v", err)
	}
	if !strings.Contains(prompt, "top 5 factual claims") {
		t.Errorf("prompt missing claim budget:\n%s", prompt)
	}
	if !strings.Contains(prompt, "top 5 most important factual claims") {
		t.Errorf("prompt missing extraction instruction:\n%s", prompt)
	}
	if !strings.Contains(prompt, p.Content) {
		t.Error("prompt missing document content")
	}
	if strings.Contains(prompt, "CONTEXT") {
		t.Error("prompt has context section without context claims")
	}
}

func TestBuildDistillPromptDefaults(t *testing.T) {
	p := &pipeline.DistillPayload{EntryID: "e-1", Content: "text"}
	prompt, err := buildDistillPrompt(p)
	if err != nil {
		t.Fatalf("buildDistillPrompt: %v", err)
	}
	if !strings.Contains(prompt, "top 12 factual claims") {
		t.Errorf("expected default claim budget of 12:\n%s", prompt)
	}
}

func TestBuildDistillPromptWithContext(t *testing.T) {
	p := &pipeline.DistillPayload{
		EntryID:   "e-1",
		Content:   "Fragment two continues the survey of volcanic provinces.",
		MaxClaims: 8,
		ContextClaims: []types.Claim{
			{Text: "The Deccan Traps are a large igneous province", Confidence: 0.9},
			{Text: "Flood basalts erupt over short geologic intervals", Confidence: 0.8},
		},
	}
	prompt, err := buildDistillPrompt(p)
	if err != nil {
		t.Fatalf("buildDistillPrompt: %v", err)
	}
	if !strings.Contains(prompt, "- The Deccan Traps are a large igneous province") {
		t.Errorf("prompt missing context claim:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Focus on claims that ADD to this context") {
		t.Error("prompt missing context steering line")
	}
}

func TestBuildComparePrompt(t *testing.T) {
	p := &pipeline.ComparePayload{
		EntryID:          "e-2",
		CompareAgainstID: "e-1",
		ClaimsA: []types.Claim{
			{Text: "The earth is round", Confidence: 0.99},
			{Text: "Mars is red", Confidence: 0.9},
		},
		ClaimsB: []types.Claim{
			{Text: "The earth is flat", Confidence: 0.4},
			{Text: "Venus is hot", Confidence: 0.8},
			{Text: "The earth is approximately spherical", Confidence: 0.95},
		},
	}
	prompt, err := buildComparePrompt(p)
	if err != nil {
		t.Fatalf("buildComparePrompt: %v", err)
	}
	for _, want := range []string{
		"A1. The earth is round",
		"A2. Mars is red",
		"B1. The earth is flat",
		"B3. The earth is approximately spherical",
		"NOVEL",
		"REDUNDANT",
		"CONTRADICTS",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildClassifyPrompt(t *testing.T) {
	p := &pipeline.ClassifyPayload{
		EntryID: "e-3",
		Claims: []types.Claim{
			{Text: "Basalt is fine-grained", Confidence: 0.9},
		},
		AvailableTopics: []string{"geology", "astronomy"},
	}
	prompt, err := buildClassifyPrompt(p)
	if err != nil {
		t.Fatalf("buildClassifyPrompt: %v", err)
	}
	if !strings.Contains(prompt, "- Basalt is fine-grained") {
		t.Error("prompt missing claim")
	}
	if !strings.Contains(prompt, "- geology") || !strings.Contains(prompt, "- astronomy") {
		t.Error("prompt missing available topics")
	}
	if !strings.Contains(prompt, "suggest a new topic name") {
		t.Error("prompt missing new-topic instruction")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"claims":[]}`, `{"claims":[]}`},
		{"fenced", "```json\n{\"claims\":[]}\n```", `{"claims":[]}`},
		{"fenced no language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(extractJSON(tt.in)); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDistillResult(t *testing.T) {
	response := "```json\n" + `{
  "claims": [
    { "text": "Basalt is an extrusive igneous rock", "confidence": 0.95 },
    { "text": "Basalt forms from rapidly cooling lava", "confidence": 0.9 }
  ]
}` + "\n```"

	res, err := parseDistillResult(response)
	if err != nil {
		t.Fatalf("parseDistillResult: %v", err)
	}
	if len(res.Claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(res.Claims))
	}
	if res.Claims[0].Text != "Basalt is an extrusive igneous rock" {
		t.Errorf("unexpected first claim: %q", res.Claims[0].Text)
	}
	if res.Claims[1].Confidence != 0.9 {
		t.Errorf("unexpected confidence: %v", res.Claims[1].Confidence)
	}
}

func TestParseDistillResultRejectsBadShapes(t *testing.T) {
	if _, err := parseDistillResult("I could not find any claims."); err == nil {
		t.Error("expected error for non-JSON response")
	}
	if _, err := parseDistillResult(`{"claims":[]}`); err == nil {
		t.Error("expected error for empty claim list")
	}
	if _, err := parseDistillResult(`{"claims":[{"text":"","confidence":0.5}]}`); err == nil {
		t.Error("expected error for blank claim text")
	}
}

func TestParseCompareResult(t *testing.T) {
	payload := &pipeline.ComparePayload{
		EntryID:          "e-2",
		CompareAgainstID: "e-1",
		ClaimsA: []types.Claim{
			{Text: "The earth is round"},
			{Text: "Mars is red"},
		},
		ClaimsB: []types.Claim{
			{Text: "The earth is flat"},
			{Text: "Venus is hot"},
			{Text: "Mars is the red planet"},
			{Text: "Jupiter has rings"},
		},
	}
	response := `{
  "classifications": [
    { "new_claim": 1, "type": "CONTRADICTS", "conflicts_with": 1, "severity": 0.8 },
    { "new_claim": 2, "type": "NOVEL" },
    { "new_claim": 3, "type": "REDUNDANT", "matches_existing": 2 },
    { "new_claim": 4, "type": "CONTRADICTS", "conflicts_with": 99 }
  ]
}`

	res, err := parseCompareResult(response, payload)
	if err != nil {
		t.Fatalf("parseCompareResult: %v", err)
	}
	if res.Entropy != 0.25 {
		t.Errorf("entropy = %v, want 0.25", res.Entropy)
	}
	if res.Friction != 0.5 {
		t.Errorf("friction = %v, want 0.5", res.Friction)
	}
	if res.ComparedAgainst != "e-1" {
		t.Errorf("compared_against = %q, want e-1", res.ComparedAgainst)
	}
	if len(res.Contradictions) != 2 {
		t.Fatalf("expected 2 contradictions, got %d", len(res.Contradictions))
	}

	first := res.Contradictions[0]
	if first.ClaimA != "The earth is round" || first.ClaimB != "The earth is flat" {
		t.Errorf("unexpected contradiction pair: %+v", first)
	}
	if first.Severity != 0.8 {
		t.Errorf("severity = %v, want 0.8", first.Severity)
	}

	second := res.Contradictions[1]
	if second.ClaimA != "?" {
		t.Errorf("out-of-range existing claim should map to ?, got %q", second.ClaimA)
	}
	if second.Severity != 0.5 {
		t.Errorf("omitted severity should default to 0.5, got %v", second.Severity)
	}
}

func TestParseCompareResultRounding(t *testing.T) {
	payload := &pipeline.ComparePayload{
		ClaimsA: []types.Claim{{Text: "a"}},
		ClaimsB: []types.Claim{{Text: "b1"}, {Text: "b2"}, {Text: "b3"}},
	}
	response := `{"classifications":[
		{"new_claim":1,"type":"NOVEL"},
		{"new_claim":2,"type":"REDUNDANT"},
		{"new_claim":3,"type":"REDUNDANT"}]}`

	res, err := parseCompareResult(response, payload)
	if err != nil {
		t.Fatalf("parseCompareResult: %v", err)
	}
	if res.Entropy != 0.3333 {
		t.Errorf("entropy = %v, want 0.3333", res.Entropy)
	}
	if res.Friction != 0 {
		t.Errorf("friction = %v, want 0", res.Friction)
	}
}

func TestParseCompareResultEmptyClaims(t *testing.T) {
	payload := &pipeline.ComparePayload{}
	res, err := parseCompareResult(`{"classifications":[]}`, payload)
	if err != nil {
		t.Fatalf("parseCompareResult: %v", err)
	}
	if res.Entropy != 0 || res.Friction != 0 {
		t.Errorf("empty claim set should score zero, got entropy=%v friction=%v", res.Entropy, res.Friction)
	}
}

func TestParseClassifyResult(t *testing.T) {
	res, err := parseClassifyResult(`{"primary_topic":"geology","secondary_topics":["volcanism"],"new_topic":null}`)
	if err != nil {
		t.Fatalf("parseClassifyResult: %v", err)
	}
	if res.PrimaryTopic != "geology" {
		t.Errorf("primary_topic = %q, want geology", res.PrimaryTopic)
	}
	if res.NewTopic != "" {
		t.Errorf("new_topic should decode null as empty, got %q", res.NewTopic)
	}
	if len(res.SecondaryTopics) != 1 || res.SecondaryTopics[0] != "volcanism" {
		t.Errorf("unexpected secondary topics: %v", res.SecondaryTopics)
	}
}

func TestParseClassifyResultNewTopic(t *testing.T) {
	res, err := parseClassifyResult(`{"primary_topic":"","secondary_topics":[],"new_topic":"petrology"}`)
	if err != nil {
		t.Fatalf("parseClassifyResult: %v", err)
	}
	if res.NewTopic != "petrology" {
		t.Errorf("new_topic = %q, want petrology", res.NewTopic)
	}
}

func TestParseClassifyResultRequiresTopic(t *testing.T) {
	if _, err := parseClassifyResult(`{"primary_topic":"","secondary_topics":[]}`); err == nil {
		t.Error("expected error when no topic chosen")
	}
}

func TestParseTypes(t *testing.T) {
	got, err := ParseTypes("distill_claims, EMBED_CLAIMS")
	if err != nil {
		t.Fatalf("ParseTypes: %v", err)
	}
	if len(got) != 2 || got[0] != types.JobDistillClaims || got[1] != types.JobEmbedClaims {
		t.Errorf("unexpected types: %v", got)
	}

	if got, err := ParseTypes(""); err != nil || got != nil {
		t.Errorf("empty filter should parse to nil, got %v, %v", got, err)
	}

	if _, err := ParseTypes("SCRY"); err == nil {
		t.Error("expected error for unknown job type")
	}
}
