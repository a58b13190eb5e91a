package document

import "strings"

// TreeMetrics returns a MetricsFunc that walks a rich-text content tree,
// concatenating every "text" field it finds, and counts words and characters.
// Paste/keystroke telemetry comes from the editor, not the content, so it is
// passed through as-is.
func TreeMetrics(pasteWords, keystrokes int) MetricsFunc {
	return func(content interface{}) Metrics {
		var sb strings.Builder
		collectText(content, &sb)
		text := sb.String()
		return Metrics{
			WordCount:      len(strings.Fields(text)),
			CharCount:      len([]rune(text)),
			PasteWordCount: pasteWords,
			KeystrokeCount: keystrokes,
		}
	}
}

func collectText(v interface{}, sb *strings.Builder) {
	switch n := v.(type) {
	case map[string]interface{}:
		if txt, ok := n["text"].(string); ok {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(txt)
		}
		if children, ok := n["content"].([]interface{}); ok {
			for _, child := range children {
				collectText(child, sb)
			}
		}
	case []interface{}:
		for _, child := range n {
			collectText(child, sb)
		}
	}
}
