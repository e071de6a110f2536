package objectstore

import "testing"

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"/exports/export_a_solo_1.mp4":  "video/mp4",
		"/exports/export_a_solo_1.WEBM": "video/webm",
		"/exports/notes.txt":            "application/octet-stream",
	}
	for path, want := range cases {
		if got := ContentType(path); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
