package chat

import "testing"

func TestPreview(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"text", TextContent("hello there"), "hello there"},
		{"image plain", MediaContent(ContentImage, "https://cdn/x.png", ""), "[image]"},
		{"image captioned", MediaContent(ContentImage, "https://cdn/x.png", "sunset"), "[image] sunset"},
		{"audio ignores caption", MediaContent(ContentAudio, "https://cdn/a.ogg", "note"), "[audio]"},
		{"document", MediaContent(ContentDocument, "https://cdn/d.pdf", "q3 report"), "[document] q3 report"},
		{"zero value", Content{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.content.Preview(); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	group := Conversation{ID: 1, IsGroup: true, Name: "platform-team"}
	if group.DisplayName() != "platform-team" {
		t.Errorf("group DisplayName() = %q", group.DisplayName())
	}

	direct := Conversation{ID: 2, Peer: Peer{ID: 42, Name: "Sam"}}
	if direct.DisplayName() != "Sam" {
		t.Errorf("direct DisplayName() = %q", direct.DisplayName())
	}

	phoneOnly := Conversation{ID: 3, Peer: Peer{ID: 43, Phone: "+15550100"}}
	if phoneOnly.DisplayName() != "+15550100" {
		t.Errorf("phone-only DisplayName() = %q", phoneOnly.DisplayName())
	}
}
