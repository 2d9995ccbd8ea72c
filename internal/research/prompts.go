package research

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/Laisky/errors/v2"
)

func buildExtractionPrompt(text string, schema Schema, maxRunes int) (string, error) {
	rendered, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "render schema")
	}

	excerpt := strings.TrimSpace(text)
	truncated := utf8.RuneCountInString(excerpt) > maxRunes
	excerpt = trimToRunes(excerpt, maxRunes)

	var b strings.Builder
	b.WriteString("Extract structured data from the text below.\n")
	b.WriteString("Respond with JSON only, matching the schema exactly. Do not add commentary.\n")
	b.WriteString("\nText:\n\"")
	b.WriteString(excerpt)
	if truncated {
		b.WriteString("...")
	}
	b.WriteString("\"\n")
	b.WriteString("\nSchema:\n")
	b.Write(rendered)
	b.WriteString("\n")
	return strings.TrimSpace(b.String()), nil
}

func buildDeepDiveQuery(topic string) string {
	return "Explain " + strings.TrimSpace(topic) + " in detail"
}
