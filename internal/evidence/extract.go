package evidence

import (
	"fmt"
	"regexp"
	"strings"
)

var htmlTagPattern = regexp.MustCompile(`(?is)<script.*?</script>|<style.*?</style>|<[^>]+>`)

// extractText produces plain text from an evidence document for the
// normalized-content hash. HTML gets tags stripped; everything else is
// treated as already-plain text. PDF extraction is intentionally not
// attempted — it is reported as a failure, falling back to the raw hash
// per §4.2.
func extractText(contentType string, body []byte) (string, error) {
	switch {
	case strings.Contains(contentType, "pdf"):
		return "", fmt.Errorf("evidence: pdf text extraction not supported")
	case strings.Contains(contentType, "html"):
		return stripHTML(string(body)), nil
	default:
		return string(body), nil
	}
}

func stripHTML(doc string) string {
	return htmlTagPattern.ReplaceAllString(doc, " ")
}
