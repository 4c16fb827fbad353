package content

import (
	"bytes"
	"errors"
	"regexp"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy        = bluemonday.UGCPolicy()
	md            = goldmark.New()
	drugNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 ()./%+-]*$`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is applied to all inbound message text before it is stored.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderMarkdown converts message text to sanitized HTML for preview.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateDrugName checks that a drug name for an alert subscription is
// non-empty and uses only allowed characters.
func ValidateDrugName(name string) error {
	if name == "" {
		return errors.New("drug name cannot be empty")
	}
	if !drugNameRegex.MatchString(name) {
		return errors.New("drug name contains invalid characters")
	}
	return nil
}

// SniffAttachment detects the MIME type of attachment data by its magic
// bytes. Returns false when the type cannot be determined.
func SniffAttachment(data []byte) (string, bool) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", false
	}
	return kind.MIME.Value, true
}
