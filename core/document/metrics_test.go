package document

import "testing"

func TestTreeMetrics(t *testing.T) {
	tests := []struct {
		name      string
		content   interface{}
		wantWords int
		wantChars int
	}{
		{name: "nil content", content: nil},
		{name: "empty doc", content: doc()},
		{name: "single paragraph", content: doc("hello world"), wantWords: 2, wantChars: 11},
		{name: "two paragraphs", content: doc("one two", "three"), wantWords: 3, wantChars: 13},
		{
			name: "nested marks keep their text",
			content: map[string]interface{}{"type": "doc", "content": []interface{}{
				map[string]interface{}{"type": "paragraph", "content": []interface{}{
					map[string]interface{}{"type": "text", "text": "plain and"},
					map[string]interface{}{"type": "text", "text": "bold", "marks": []interface{}{"strong"}},
				}},
			}},
			wantWords: 3,
			wantChars: 14,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := TreeMetrics(7, 42)(tt.content)
			if m.WordCount != tt.wantWords {
				t.Errorf("WordCount = %d, want %d", m.WordCount, tt.wantWords)
			}
			if m.CharCount != tt.wantChars {
				t.Errorf("CharCount = %d, want %d", m.CharCount, tt.wantChars)
			}
			if m.PasteWordCount != 7 || m.KeystrokeCount != 42 {
				t.Errorf("telemetry = (%d, %d), want passthrough (7, 42)", m.PasteWordCount, m.KeystrokeCount)
			}
		})
	}
}
