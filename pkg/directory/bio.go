package directory

import (
	"strings"

	nethtml "golang.org/x/net/html"
)

// PlainBio flattens an HTML account bio into plain text. Mastodon-style
// directories serve bios as sanitized HTML; consumers that only want text
// (logging, search, terminal display) go through here.
//
// Block boundaries (<p>, <br>) become newlines, everything else is dropped.
func PlainBio(bio string) string {
	if bio == "" {
		return ""
	}

	root, err := nethtml.Parse(strings.NewReader(bio))
	if err != nil {
		// Sanitized upstream, so a parse failure means garbage in; return the
		// raw string rather than losing the bio entirely.
		return strings.TrimSpace(bio)
	}

	var b strings.Builder
	flattenNode(&b, root)

	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func flattenNode(b *strings.Builder, n *nethtml.Node) {
	switch n.Type {
	case nethtml.TextNode:
		b.WriteString(n.Data)
	case nethtml.ElementNode:
		if n.Data == "br" {
			b.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenNode(b, c)
	}

	if n.Type == nethtml.ElementNode && n.Data == "p" {
		b.WriteString("\n\n")
	}
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
