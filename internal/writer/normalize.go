package writer

import (
	"fmt"
	"mime"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/thinktank-hq/notebook/internal/storage"
)

// Media types the writer accepts. HTML is converted to markdown on the
// way in; markdown and plain text pass through with whitespace collapse.
const (
	TypeHTML     = "text/html"
	TypeMarkdown = "text/markdown"
	TypePlain    = "text/plain"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// normalized is the outcome of media-type normalization.
type normalized struct {
	Content []byte
	// ContentType after normalization; OriginalType is set only when
	// the type changed.
	ContentType  string
	OriginalType string
}

// normalize converts content into the stored representation for its
// media type. Unknown media types are rejected as invalid input.
func normalize(content []byte, contentType string) (*normalized, error) {
	mediaType := contentType
	if mediaType == "" {
		mediaType = TypePlain
	}
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(mediaType)

	switch mediaType {
	case TypeHTML:
		md, err := htmltomarkdown.ConvertString(string(content))
		if err != nil {
			return nil, fmt.Errorf("%w: convert html: %v", storage.ErrInvalid, err)
		}
		return &normalized{
			Content:      []byte(collapseWhitespace(md)),
			ContentType:  TypeMarkdown,
			OriginalType: TypeHTML,
		}, nil
	case TypeMarkdown, TypePlain:
		return &normalized{
			Content:     []byte(collapseWhitespace(string(content))),
			ContentType: mediaType,
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported media type %q", storage.ErrInvalid, contentType)
}

// collapseWhitespace trims trailing space per line and squeezes runs of
// blank lines down to one. Idempotent.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
