package tracker

import (
	"encoding/json"
	"strings"
)

// adfNode is any node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// FlattenADF extracts plain text from an ADF document by concatenating every
// leaf text node in document order. The conversion is lossy: block structure
// and marks are dropped. A JSON string is returned as-is.
func FlattenADF(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type == "" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var b strings.Builder
	collectText(&b, doc)
	return b.String()
}

func collectText(b *strings.Builder, n adfNode) {
	if len(n.Content) == 0 {
		b.WriteString(n.Text)
		return
	}
	for _, child := range n.Content {
		collectText(b, child)
	}
}

// TextToADF wraps plain text into a single-paragraph ADF document.
func TextToADF(text string) json.RawMessage {
	doc := adfDocument{
		Type:    "doc",
		Version: 1,
		Content: []adfNode{{
			Type:    "paragraph",
			Content: []adfNode{{Type: "text", Text: text}},
		}},
	}
	data, _ := json.Marshal(doc)
	return data
}

type adfDocument struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []adfNode `json:"content"`
}
