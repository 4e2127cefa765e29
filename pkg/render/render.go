// Package render produces the HTML view of a post's content.
package render

import (
	"errors"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ssargent/quill/pkg/codec"
)

// ErrEncrypted is returned for content that cannot be rendered because it is
// ciphertext.
var ErrEncrypted = errors.New("encrypted content cannot be rendered")

var policy = bluemonday.UGCPolicy()

// HTML renders plaintext content as markdown and sanitizes the result.
func HTML(content codec.Content) ([]byte, error) {
	switch c := content.(type) {
	case codec.Plain:
		return policy.SanitizeBytes(markdownToHTML(c)), nil
	case codec.Encrypted:
		return nil, ErrEncrypted
	default:
		return nil, codec.ErrNilContent
	}
}

// Title renders a post title as escaped plain text.
func Title(title []byte) string {
	return bluemonday.StrictPolicy().Sanitize(string(title))
}

func markdownToHTML(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	opts := html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank}
	return markdown.Render(doc, html.NewRenderer(opts))
}
