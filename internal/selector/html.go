package selector

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
)

type htmlNode struct {
	n *html.Node
}

// FromHTML adapts a parsed element node. It returns nil for non-element nodes.
func FromHTML(n *html.Node) Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return htmlNode{n: n}
}

// ParseHTML parses a document snapshot and returns its root element.
func ParseHTML(r io.Reader) (Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html snapshot: %w", err)
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return htmlNode{n: c}, nil
		}
	}
	return nil, fmt.Errorf("parse html snapshot: no root element")
}

func (h htmlNode) TagName() string {
	return h.n.Data
}

func (h htmlNode) Attribute(name string) (string, bool) {
	for _, a := range h.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (h htmlNode) Parent() Node {
	for p := h.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return htmlNode{n: p}
		}
	}
	return nil
}

func (h htmlNode) Children() []Node {
	var out []Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, htmlNode{n: c})
		}
	}
	return out
}
