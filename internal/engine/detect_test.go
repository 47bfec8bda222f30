package engine

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{"ollama", "ollama"},
		{"openai", "openai"},
		{"", "openai"},
	}
	for _, tt := range tests {
		e, err := Detect(DetectConfig{Backend: tt.backend, BaseURL: "http://localhost:1234/v1", Model: "m"})
		if err != nil {
			t.Fatalf("Detect(%q): %v", tt.backend, err)
		}
		if e.Backend() != tt.want {
			t.Errorf("Detect(%q).Backend() = %q, want %q", tt.backend, e.Backend(), tt.want)
		}
		if e.Model() != "m" {
			t.Errorf("Detect(%q).Model() = %q", tt.backend, e.Model())
		}
	}

	if _, err := Detect(DetectConfig{Backend: "mlx"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"```\nsummary here\n```", "summary here"},
		{"```json\n{\"label\":\"yes\"}\n```", `{"label":"yes"}`},
		{"  ```text\nA paragraph.```  ", "A paragraph."},
		{"```{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
