package htmlsanitize_test

import (
	"strings"
	"testing"

	"github.com/dalemusser/ridechat/internal/app/system/htmlsanitize"
)

func TestPlainText_Empty(t *testing.T) {
	if got := htmlsanitize.PlainText(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestPlainText_Unchanged(t *testing.T) {
	input := "Leaving from the north lot at 5, don't be late!"
	if got := htmlsanitize.PlainText(input); got != input {
		t.Errorf("expected plain text unchanged, got %q", got)
	}
}

func TestPlainText_KeepsAmpersand(t *testing.T) {
	if got := htmlsanitize.PlainText("fish & chips"); got != "fish & chips" {
		t.Errorf("expected ampersand preserved, got %q", got)
	}
}

func TestPlainText_StripsTags(t *testing.T) {
	if got := htmlsanitize.PlainText("<b>see</b> <i>you</i>"); got != "see you" {
		t.Errorf("expected tags stripped, got %q", got)
	}
}

func TestPlainText_DropsScript(t *testing.T) {
	got := htmlsanitize.PlainText("hi<script>alert('xss')</script>")
	if strings.Contains(got, "alert") || strings.Contains(got, "<") {
		t.Errorf("expected script removed, got %q", got)
	}
	if !strings.HasPrefix(got, "hi") {
		t.Errorf("expected text preserved, got %q", got)
	}
}

func TestPlainText_OnlyMarkup(t *testing.T) {
	if got := htmlsanitize.PlainText(`<img src="x" onerror="alert(1)">`); strings.TrimSpace(got) != "" {
		t.Errorf("expected nothing left, got %q", got)
	}
}

func TestIsPlainText(t *testing.T) {
	if !htmlsanitize.IsPlainText("") {
		t.Error("empty string should be plain text")
	}
	if !htmlsanitize.IsPlainText("meet at gate 3") {
		t.Error("string without tags should be plain text")
	}
	if htmlsanitize.IsPlainText("<p>hello</p>") {
		t.Error("string with tags should not be plain text")
	}
}
