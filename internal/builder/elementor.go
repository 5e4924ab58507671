package builder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// elementorNoise matches rendered Elementor markup that carries no linkable
// text: inline styles, post cards, post listing widgets and shortcodes.
const elementorNoise = "style, .elementor-post__card, .elementor-widget-posts, .elementor-shortcode"

var typographicReplacer = strings.NewReplacer(
	"&#8211;", "–",
	"&#8212;", "—",
	"&#8216;", "'",
	"&#8217;", "'",
	"‘", "'",
	"’", "'",
	"&#8220;", `"`,
	"&#8221;", `"`,
	"“", `"`,
	"”", `"`,
	"&#8722;", "−",
	"&#8230;", "…",
	"&#34;", `"`,
	"&#36;", "$",
	"&#39;", "'",
)

var spanStyle = regexp.MustCompile(`(?i)(<span\s+style=")([^"]*)(")`)

// CleanElementorHTML strips non-content widgets from rendered Elementor
// markup and normalizes typography so the remote side sees plain text runs.
func CleanElementorHTML(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}

	doc, err := fragmentDocument(body)
	if err != nil {
		return "", fmt.Errorf("parsing elementor content: %w", err)
	}
	doc.Find(elementorNoise).Remove()

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("rendering elementor content: %w", err)
	}

	out = typographicReplacer.Replace(out)
	out = spanStyle.ReplaceAllStringFunc(out, terminateStyle)
	return out, nil
}

// terminateStyle appends a ';' to a span style attribute that lacks one.
func terminateStyle(match string) string {
	parts := spanStyle.FindStringSubmatch(match)
	style := parts[2]
	if style == "" || strings.HasSuffix(strings.TrimRight(style, " \t"), ";") {
		return match
	}
	return parts[1] + style + ";" + parts[3]
}

// fragmentDocument parses body as the children of a detached div so head
// elements such as <style> stay in place. Html() on the result renders the
// div's children only.
func fragmentDocument(body string) (*goquery.Document, error) {
	parent := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(body), parent)
	if err != nil {
		return nil, err
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// stripScripts removes <script> elements from rich field content. Content
// without scripts is returned unchanged.
func stripScripts(content string) (string, error) {
	if !strings.Contains(strings.ToLower(content), "<script") {
		return content, nil
	}
	doc, err := fragmentDocument(content)
	if err != nil {
		return "", err
	}
	doc.Find("script").Remove()
	return doc.Html()
}
