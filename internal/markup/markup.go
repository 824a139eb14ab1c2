// Package markup converts between LLM-produced HTML-ish text, plain text and the
// HTML subset accepted by the Telegram Bot API.
package markup

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	blankLines = regexp.MustCompile(`\n{3,}`)

	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

	// telegramTags lists the formatting tags Telegram renders in HTML parse mode.
	telegramTags = map[string]struct{}{
		"b": {}, "strong": {}, "i": {}, "em": {}, "u": {}, "ins": {},
		"s": {}, "strike": {}, "del": {}, "code": {}, "pre": {},
		"blockquote": {}, "tg-spoiler": {},
	}

	blockTags = map[string]struct{}{
		"p": {}, "div": {}, "section": {}, "article": {}, "ul": {}, "ol": {}, "table": {}, "tr": {},
	}

	headingTags = map[string]struct{}{
		"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	}
)

// PlainText strips all markup and collapses whitespace.
func PlainText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// VisibleLength counts the characters a reader actually sees.
func VisibleLength(s string) int {
	return utf8.RuneCountInString(PlainText(s))
}

// WordCount counts whitespace-separated words of the visible text.
func WordCount(s string) int {
	return len(strings.Fields(PlainText(s)))
}

// TelegramHTML rewrites s so that it only uses tags Telegram accepts. Unsupported
// elements are unwrapped, block elements become line breaks and bare text is escaped.
func TelegramHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return textEscaper.Replace(s)
	}

	var b strings.Builder
	doc.Find("body").Each(func(_ int, body *goquery.Selection) {
		for _, node := range body.Nodes {
			for c := node.FirstChild; c != nil; c = c.NextSibling {
				render(&b, c)
			}
		}
	})

	out := blankLines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}

func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(textEscaper.Replace(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	tag := strings.ToLower(n.Data)
	switch {
	case tag == "script" || tag == "style":
		return
	case tag == "br":
		b.WriteString("\n")
		return
	case tag == "a":
		href := attr(n, "href")
		if href == "" {
			renderChildren(b, n)
			return
		}
		b.WriteString(`<a href="` + attrEscaper.Replace(href) + `">`)
		renderChildren(b, n)
		b.WriteString("</a>")
		return
	case tag == "span" && attr(n, "class") == "tg-spoiler":
		b.WriteString(`<span class="tg-spoiler">`)
		renderChildren(b, n)
		b.WriteString("</span>")
		return
	case tag == "li":
		b.WriteString("• ")
		renderChildren(b, n)
		b.WriteString("\n")
		return
	}

	if _, ok := headingTags[tag]; ok {
		b.WriteString("<b>")
		renderChildren(b, n)
		b.WriteString("</b>\n\n")
		return
	}
	if _, ok := blockTags[tag]; ok {
		renderChildren(b, n)
		b.WriteString("\n\n")
		return
	}
	if _, ok := telegramTags[tag]; ok {
		open := "<" + tag
		if tag == "code" {
			if class := attr(n, "class"); strings.HasPrefix(class, "language-") {
				open += ` class="` + attrEscaper.Replace(class) + `"`
			}
		}
		b.WriteString(open + ">")
		renderChildren(b, n)
		b.WriteString("</" + tag + ">")
		return
	}

	renderChildren(b, n)
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
