package chat

// ContentType discriminates the message content union.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
)

// Content is the tagged content union of a message. Text content carries
// Text; media content carries URL plus an optional Caption.
type Content struct {
	Type    ContentType `json:"type"`
	Text    string      `json:"text,omitempty"`
	URL     string      `json:"url,omitempty"`
	Caption string      `json:"caption,omitempty"`
}

// TextContent builds a plain text content value.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// MediaContent builds a media content value of the given type.
func MediaContent(t ContentType, url, caption string) Content {
	return Content{Type: t, URL: url, Caption: caption}
}

// Preview returns the one-line rendering used in conversation summaries.
func (c Content) Preview() string {
	switch c.Type {
	case ContentText:
		return c.Text
	case ContentImage:
		return previewWithCaption("[image]", c.Caption)
	case ContentVideo:
		return previewWithCaption("[video]", c.Caption)
	case ContentAudio:
		return "[audio]"
	case ContentDocument:
		return previewWithCaption("[document]", c.Caption)
	default:
		return ""
	}
}

func previewWithCaption(tag, caption string) string {
	if caption == "" {
		return tag
	}
	return tag + " " + caption
}
