package tracker

import (
	"encoding/json"
	"testing"
)

func TestFlattenADF(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"plain string", `"just text"`, "just text"},
		{
			name: "single paragraph",
			raw:  `{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"Hello"}]}]}`,
			want: "Hello",
		},
		{
			name: "nested leaves in document order",
			raw: `{"type":"doc","version":1,"content":[
				{"type":"paragraph","content":[{"type":"text","text":"A"},{"type":"text","text":"B","marks":[{"type":"strong"}]}]},
				{"type":"bulletList","content":[{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"C"}]}]}]},
				{"type":"paragraph","content":[{"type":"text","text":"D"}]}
			]}`,
			want: "ABCD",
		},
		{"empty doc", `{"type":"doc","version":1,"content":[]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlattenADF(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("FlattenADF() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextToADF_RoundTrip(t *testing.T) {
	raw := TextToADF("Fix the login page")

	var doc struct {
		Type    string `json:"type"`
		Version int    `json:"version"`
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Type != "doc" || doc.Version != 1 {
		t.Errorf("document header = %+v", doc)
	}
	if len(doc.Content) != 1 || doc.Content[0].Type != "paragraph" {
		t.Errorf("want a single paragraph, got %+v", doc.Content)
	}
	if got := FlattenADF(raw); got != "Fix the login page" {
		t.Errorf("FlattenADF(TextToADF(x)) = %q", got)
	}
}
