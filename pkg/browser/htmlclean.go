package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Elements dropped wholesale before handing markup to a parser.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"template": true,
}

// CleanHTML re-renders markup without script/style noise. The vendor pages
// embed inline scripts inside table cells; stripping them keeps the
// downstream goquery parsers from tripping over script text that looks like
// data.
func CleanHTML(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var builder strings.Builder
	renderClean(doc, &builder)
	return builder.String(), nil
}

func renderClean(n *html.Node, builder *strings.Builder) {
	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		builder.WriteString(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		builder.WriteString("<")
		builder.WriteString(tag)
		for _, attr := range n.Attr {
			fmt.Fprintf(builder, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
		}
		builder.WriteString(">")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderClean(c, builder)
		}
		if !voidElements[tag] {
			builder.WriteString("</" + tag + ">")
		}
		return
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderClean(c, builder)
		}
	}
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}
