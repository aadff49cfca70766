package htmlutil

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("bankfeed.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var anyWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText collapses whitespace runs before stripping non-printable
// runes so words separated only by newlines do not fuse together.
func CleanText(s string) string {
	s = anyWhitespace.ReplaceAllString(s, " ")
	s = removeNonPrintable(s)
	return strings.Trim(s, " ")
}

// An element that can trigger navigation: an anchor, a button or an
// input carrying an href or an onclick script.
type Clickable struct {
	Label   string
	Href    string
	OnClick string
}

func GetClickables(ctx context.Context, sel *goquery.Selection) []Clickable {
	ctx, span := tracer.Start(ctx, "GetClickables")
	defer span.End()

	clickables := []Clickable{}
	for _, n := range sel.Nodes {
		href := ""
		onclick := ""
		value := ""
		for _, a := range n.Attr {
			switch a.Key {
			case "href":
				href = a.Val
			case "onclick":
				onclick = a.Val
			case "value":
				value = a.Val
			}
		}
		if href == "" && onclick == "" {
			continue
		}

		label := CleanText(GetText(n))
		if label == "" {
			// inputs and image buttons carry their caption in value=
			label = CleanText(value)
		}

		clickables = append(clickables, Clickable{
			Label:   label,
			Href:    href,
			OnClick: onclick,
		})
		span.AddEvent("clickable", trace.WithAttributes(
			attribute.String("label", label),
			attribute.String("href", href),
		))
	}

	return clickables
}
