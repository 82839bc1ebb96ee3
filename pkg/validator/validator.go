package validator

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxContentLength = 4000
	MaxAttachments   = 10
	maxEmojiLength   = 32
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return strings.Join(parts, "; ")
}

// Attachment is the part of an attachment the validator looks at.
type Attachment struct {
	Name string
	URL  string
}

// ValidateMessage checks an outgoing message. A message needs text, at
// least one attachment, or both.
func ValidateMessage(content string, attachments []Attachment) ValidationErrors {
	errs := make(ValidationErrors)

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && len(attachments) == 0 {
		errs.Add("content", "Message content is required")
	} else if utf8.RuneCountInString(content) > MaxContentLength {
		errs.Add("content", fmt.Sprintf("Message is too long (max %d characters)", MaxContentLength))
	}

	if len(attachments) > MaxAttachments {
		errs.Add("attachments", fmt.Sprintf("At most %d attachments are allowed", MaxAttachments))
	}
	for i, a := range attachments {
		if strings.TrimSpace(a.Name) == "" {
			errs.Add(fmt.Sprintf("attachments[%d].name", i), "Attachment name is required")
		}
		if u, err := url.Parse(a.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add(fmt.Sprintf("attachments[%d].url", i), "Attachment URL must be absolute")
		}
	}

	return errs
}

// ValidateEmoji accepts a short, printable, whitespace-free reaction key.
func ValidateEmoji(emoji string) ValidationErrors {
	errs := make(ValidationErrors)

	switch {
	case emoji == "":
		errs.Add("emoji", "Emoji is required")
	case len(emoji) > maxEmojiLength:
		errs.Add("emoji", "Emoji is too long")
	case !utf8.ValidString(emoji):
		errs.Add("emoji", "Emoji must be valid UTF-8")
	default:
		for _, r := range emoji {
			if unicode.IsSpace(r) || unicode.IsControl(r) {
				errs.Add("emoji", "Emoji cannot contain whitespace")
				break
			}
		}
	}

	return errs
}
