package interpret

import (
	"fmt"
	"strings"
)

// langNames maps common BCP 47 codes to human-readable language names.
var langNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"pl": "Polish",
}

const responseSchema = `{
  "text": "<your interpretation>",
  "style": "<tone>",
  "disclaimer": "For reflection/entertainment; not medical/legal/financial advice."
}`

func systemPrompt(lang string, style Style) string {
	var extra strings.Builder
	if lang != "" && lang != "en" {
		name, ok := langNames[lang]
		if !ok {
			name = lang
		}
		fmt.Fprintf(&extra, "\n- Respond entirely in %s.", name)
	}
	switch style.Tone {
	case ToneGentle:
		extra.WriteString("\n- Use a warm, gentle and encouraging voice.")
	case ToneDirect:
		extra.WriteString("\n- Be direct and concise; avoid flowery language.")
	}
	if style.Detailed {
		extra.WriteString("\n- Discuss every card in its position before the synthesis.")
	} else {
		extra.WriteString("\n- Keep the reading under 250 words.")
	}

	return fmt.Sprintf(`You are a tarot reader providing balanced, reflective interpretations.

Rules:
- Never provide medical, legal, or financial advice.
- Never predict specific outcomes or disasters.
- Never command actions or diagnose conditions.
- Offer balanced possibilities and reflective questions.
- If a question is provided, incorporate it but never guarantee outcomes.%s

Respond with ONLY a JSON object (no markdown, no code fences, no extra text) matching this exact schema:
%s`, extra.String(), responseSchema)
}

func writeSpread(b *strings.Builder, req Request) {
	fmt.Fprintf(b, "Deck: %s\nSpread: %s\n\nCards drawn:\n", req.DeckID, req.Spread.Name)
	for _, card := range req.Cards {
		pos := req.Spread.PositionName(card.Position)
		if pos == "" {
			pos = fmt.Sprintf("Position %d", card.Position)
		}
		fmt.Fprintf(b, "  %s: %s (%s)\n", pos, card.Name, card.Orientation)
		if len(card.Keywords) > 0 {
			fmt.Fprintf(b, "    Keywords: %s\n", strings.Join(card.Keywords, ", "))
		}
		fmt.Fprintf(b, "    Meaning: %s\n", card.Meaning(card.Orientation))
	}
	if req.Question != "" {
		fmt.Fprintf(b, "\nThe querent asks: %q\n", req.Question)
	}
}

func readingPrompt(req Request) string {
	var b strings.Builder
	writeSpread(&b, req)
	b.WriteString("\nProvide a cohesive interpretation as a single JSON object.")
	return b.String()
}

func followUpPrompt(req FollowUpRequest) string {
	var b strings.Builder
	writeSpread(&b, req.Request)
	fmt.Fprintf(&b, "\nYour reading was:\n%s\n", req.Reading)
	for i, prev := range req.Previous {
		fmt.Fprintf(&b, "\nEarlier follow-up %d:\n%s\n", i+1, prev)
	}
	fmt.Fprintf(&b, "\nThe querent now asks: %q\n", req.FollowUp)
	b.WriteString("\nAnswer the follow-up using the same cards, as a single JSON object.")
	return b.String()
}

func repairPrompt(badJSON string) string {
	return fmt.Sprintf(`Your previous response was not valid JSON. Here is what you returned:
%s

Return ONLY the corrected JSON object matching this schema (no markdown, no code fences):
%s`, badJSON, responseSchema)
}
