package textutil

import "testing"

func TestNormalizeComposesHangul(t *testing.T) {
	decomposed := "\u1100\u1161\u11a8" // conjoining jamo for U+AC01
	if got := Normalize(" " + decomposed + " "); got != "\uac01" {
		t.Fatalf("Normalize = %q, want %q", got, "각")
	}
}

func TestContainsFold(t *testing.T) {
	tests := []struct {
		haystack, needle string
		want             bool
	}{
		{"Kim Minji", "minji", true},
		{"김민지", "민지", true},
		{"김민지", "", true},
		{"Lee", "park", false},
	}
	for _, tt := range tests {
		if got := ContainsFold(tt.haystack, tt.needle); got != tt.want {
			t.Fatalf("ContainsFold(%q, %q) = %v, want %v", tt.haystack, tt.needle, got, tt.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		" a/b:c? ":           "a-b-c",
		"../etc":             "-etc",
		".hidden":            "hidden",
		"rec\t\n1":           "rec1",
		"\u1100\u1175\u11b7": "\uae40",
		"":                   "",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
