package messenger

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

var tagSeparators = regexp.MustCompile(`[-/· ]`)

// Announcement renders the channel post for a gallery: one line per tag
// namespace, then the article preview link and the source link.
func Announcement(g domain.GalleryEntity, articleURL, sourceURL string) string {
	var sb strings.Builder
	for _, group := range g.Tags {
		if len(group.Values) == 0 {
			continue
		}
		tags := make([]string, 0, len(group.Values))
		for _, v := range group.Values {
			tags = append(tags, "#"+html.EscapeString(tagSeparators.ReplaceAllString(v, "_")))
		}
		fmt.Fprintf(&sb, "<code>%6s</code>: %s\n", html.EscapeString(group.Namespace), strings.Join(tags, " "))
	}
	fmt.Fprintf(&sb, "<code>%6s</code>: <a href=\"%s\">%s</a>\n", "preview", html.EscapeString(articleURL), html.EscapeString(g.Title))
	fmt.Fprintf(&sb, "<code>%6s</code>: %s", "source", html.EscapeString(sourceURL))
	return sb.String()
}

// UploadFailure renders the operator notice for a gallery that could not be mirrored.
func UploadFailure(ref domain.GalleryRef, sourceURL string, err error) string {
	return fmt.Sprintf("gallery %d upload failed\n%s\n%s", ref.ID, html.EscapeString(sourceURL), html.EscapeString(err.Error()))
}

// AuthFailure renders the operator notice for a source session that was refused.
func AuthFailure(sourceURL string, err error) string {
	return fmt.Sprintf("source login failed\n%s\n%s", html.EscapeString(sourceURL), html.EscapeString(err.Error()))
}
