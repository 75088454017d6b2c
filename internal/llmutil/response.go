package llmutil

import (
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ExtractText concatenates all text parts from a Gemini response's first
// candidate into a single string. Returns an empty string if the response
// has no candidates or content.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			text += p.Text
		}
	}
	return text
}

// ExtractContent extracts all content from a Gemini response's first
// candidate, including inline images. Text parts are concatenated as-is.
// InlineData parts (images) are converted to data URI strings
// (e.g., "data:image/png;base64,..."). Multiple parts are joined with
// newlines.
func ExtractContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			parts = append(parts, fmt.Sprintf("data:%s;base64,%s",
				p.InlineData.MIMEType,
				base64.StdEncoding.EncodeToString(p.InlineData.Data)))
		}
	}
	return strings.Join(parts, "\n")
}
