package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain text", "plain text"},
		{`hello <script>alert("x")</script>world`, "hello world"},
		{`<b>bold</b> stays`, "<b>bold</b> stays"},
		{`<a href="javascript:evil()">link</a>`, "link"},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.input); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("some **bold** text")
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("markdown not rendered: %q", html)
	}

	html, err = RenderMarkdown(`<script>alert("x")</script>ok`)
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("rendered HTML not sanitized: %q", html)
	}
}

func TestValidateDrugName(t *testing.T) {
	valid := []string{"Aspirin", "Vitamin D3", "Co-codamol 8/500", "Ibuprofen (200mg)"}
	for _, name := range valid {
		if err := ValidateDrugName(name); err != nil {
			t.Errorf("ValidateDrugName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "<script>", "name;drop", " leading-space"}
	for _, name := range invalid {
		if err := ValidateDrugName(name); err == nil {
			t.Errorf("ValidateDrugName(%q) = nil, want error", name)
		}
	}
}

func TestSniffAttachment(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	mime, ok := SniffAttachment(png)
	if !ok {
		t.Fatal("PNG magic not detected")
	}
	if mime != "image/png" {
		t.Errorf("expected image/png, got %q", mime)
	}

	if _, ok := SniffAttachment([]byte("just some text")); ok {
		t.Error("plain text detected as a known type")
	}
}
