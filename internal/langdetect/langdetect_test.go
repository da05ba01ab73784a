package langdetect

import "testing"

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want Language
	}{
		{"english sentence", "I have been feeling anxious about my exams lately and cannot sleep.", En},
		{"persian sentence", "من این روزها خیلی مضطرب هستم و نمی‌توانم خوب بخوابم.", Fa},
		{"empty", "", Unknown},
		{"digits and punctuation", "12345 ?!", Unknown},
		{"cyrillic", "Привет, как дела у тебя сегодня?", Unknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Detect(tc.text); got != tc.want {
				t.Errorf("Detect(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestHasPersianScript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"hello", false},
		{"سلام", true},
		{"mixed سلام text", true},
		{"", false},
	}
	for _, tc := range tests {
		if got := HasPersianScript(tc.text); got != tc.want {
			t.Errorf("HasPersianScript(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	if Parse("fa") != Fa || Parse("en") != En {
		t.Fatal("Parse did not round-trip supported languages")
	}
	if got := Parse("de"); got != Unknown {
		t.Errorf("Parse(de) = %q, want unknown", got)
	}
	if Unknown.Valid() {
		t.Error("Unknown must not be valid")
	}
}
