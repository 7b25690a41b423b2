// Package prompt turns a classified message into the two-part prompt
// sent to the model gateway. Building a prompt is pure string work; no
// network, no store.
package prompt

import (
	"fmt"
	"strings"

	"github.com/nazanin-ai/nazanin/internal/nazanin/classify"
)

// DefaultRole is used when the config does not set one.
const DefaultRole = "a helpful assistant"

// Tone guides the register of the reply.
type Tone struct {
	Formality string `json:"formality"` // casual, professional or formal
	Emotion   string `json:"emotion"`   // warm, neutral, enthusiastic or empathetic
	Style     string `json:"style"`     // informative, conversational or technical
}

// Constraints bound the reply.
type Constraints struct {
	MaxLength         int    `json:"max_length"`
	MustIncludeSource bool   `json:"must_include_source"`
	AllowEmoji        bool   `json:"allow_emoji"`
	Language          string `json:"language"`
}

// Prompt is the assembled envelope for one model call.
type Prompt struct {
	System      string      `json:"system"`
	User        string      `json:"user"`
	Tone        Tone        `json:"tone"`
	Constraints Constraints `json:"constraints"`
}

// Platforms whose replies must fit a hard character cap.
var lengthCapped = map[string]bool{
	"twitter": true,
	"x":       true,
}

var instructionsByResponseType = map[string][]string{
	classify.ResponseDetailedAnswer: {
		"give a complete, well-reasoned answer",
		"back claims with reliable sources",
		"include practical examples",
		"keep the wording simple and clear",
	},
	classify.ResponseTechnicalExplanation: {
		"explain the technical details precisely",
		"use proper domain terminology",
		"include sample code when it helps",
		"cite technical references",
	},
	classify.ResponseEmpatheticSolution: {
		"acknowledge the feeling first",
		"confirm the problem",
		"offer a concrete next step",
		"suggest a follow-up",
	},
	classify.ResponseFriendlyChat: {
		"be warm and friendly",
		"use fitting emoji",
		"keep it short and engaging",
	},
}

var defaultInstructions = []string{
	"give a professional, useful reply",
	"stay respectful",
	"write clearly",
}

// ToneFor derives the tone record from a classification.
func ToneFor(c classify.Classification) Tone {
	tone := Tone{
		Formality: "professional",
		Emotion:   "neutral",
		Style:     "informative",
	}
	switch c.Primary {
	case classify.CategoryCasual:
		tone.Formality = "casual"
		tone.Emotion = "warm"
		tone.Style = "conversational"
	case classify.CategoryTechnical:
		tone.Formality = "formal"
		tone.Style = "technical"
	case classify.CategoryPraise:
		tone.Emotion = "warm"
	case classify.CategoryComplaint:
		tone.Emotion = "empathetic"
	}
	return tone
}

// Instructions returns the fixed imperative list for a response type.
func Instructions(responseType string) []string {
	if list, ok := instructionsByResponseType[responseType]; ok {
		return list
	}
	return defaultInstructions
}

// ConstraintsFor derives the reply bounds from a classification.
func ConstraintsFor(c classify.Classification) Constraints {
	maxLength := 2000
	if lengthCapped[c.Metadata.Platform] {
		maxLength = 280
	}
	return Constraints{
		MaxLength:         maxLength,
		MustIncludeSource: c.Primary == classify.CategoryTechnical || c.Primary == classify.CategoryNews,
		AllowEmoji:        c.Primary == classify.CategoryCasual || c.Primary == classify.CategoryPraise,
		Language:          c.Metadata.Language,
	}
}

// Build assembles the prompt envelope. The user part carries the input
// text verbatim; everything derived goes into the system part.
func Build(text string, c classify.Classification, role string) Prompt {
	if role == "" {
		role = DefaultRole
	}
	tone := ToneFor(c)
	constraints := ConstraintsFor(c)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", role)
	b.WriteString("Response Guidelines:\n")
	fmt.Fprintf(&b, "- Category: %s\n", c.Primary)
	fmt.Fprintf(&b, "- Type: %s\n", c.ResponseType)
	fmt.Fprintf(&b, "- Priority: %d/10\n", c.Priority)
	fmt.Fprintf(&b, "- Tone: %s, %s, %s\n", tone.Formality, tone.Emotion, tone.Style)
	fmt.Fprintf(&b, "- Max length: %d characters\n", constraints.MaxLength)
	if constraints.Language != "" && constraints.Language != "unknown" {
		fmt.Fprintf(&b, "- Reply in the same language as the message (%s)\n", constraints.Language)
	}
	if !constraints.AllowEmoji {
		b.WriteString("- Do not use emoji\n")
	}
	if constraints.MustIncludeSource {
		b.WriteString("- Name your sources\n")
	}
	b.WriteString("\nInstructions:\n")
	for _, inst := range Instructions(c.ResponseType) {
		fmt.Fprintf(&b, "- %s\n", inst)
	}

	return Prompt{
		System:      strings.TrimRight(b.String(), "\n"),
		User:        text,
		Tone:        tone,
		Constraints: constraints,
	}
}

// Flatten joins the two prompt parts into the single string the
// gateway callers expect.
func (p Prompt) Flatten() string {
	return p.System + "\n\n" + p.User
}
