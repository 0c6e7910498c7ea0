// Package selector derives stable identifying descriptors for interface
// elements. Identity attributes are preferred over structural position.
package selector

import (
	"strconv"
	"strings"
)

// Kind identifies the attribute family a Descriptor was derived from.
type Kind string

const (
	KindID        Kind = "id"
	KindTestID    Kind = "test-id"
	KindAriaLabel Kind = "aria-label"
	KindClass     Kind = "class"
	KindPath      Kind = "xpath"
)

// TestIDAttributes are the automation attribute aliases checked in order.
var TestIDAttributes = []string{"data-test-id", "data-testid", "data-test"}

// DefaultClassMarkers match the framework-generated class names observed on
// the target site.
var DefaultClassMarkers = []string{"artdeco-", "ember-"}

// Descriptor is the most stable identity found for an element. Exactly one
// kind is populated.
type Descriptor struct {
	Kind  Kind   `json:"type"`
	Value string `json:"value"`
}

func (d Descriptor) String() string {
	return string(d.Kind) + "=" + d.Value
}

// Positional reports whether the descriptor depends on document structure.
// Positional descriptors are recomputed on every resolution and may change
// when the document mutates.
func (d Descriptor) Positional() bool {
	return d.Kind == KindPath
}

// Node is the read-only view of an element the resolver needs. Parent
// returns nil for the topmost element. Children returns element children in
// document order. Implementations must be comparable so that a node can be
// found among its parent's children with ==.
type Node interface {
	TagName() string
	Attribute(name string) (string, bool)
	Parent() Node
	Children() []Node
}

// Resolver resolves nodes to descriptors. The zero value is not usable; use
// NewResolver.
type Resolver struct {
	classMarkers []string
}

// NewResolver returns a resolver matching framework class names against the
// given markers, or DefaultClassMarkers when none are given.
func NewResolver(classMarkers ...string) *Resolver {
	if len(classMarkers) == 0 {
		classMarkers = DefaultClassMarkers
	}
	markers := make([]string, 0, len(classMarkers))
	for _, m := range classMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	return &Resolver{classMarkers: markers}
}

// ClassMarkers returns a copy of the configured framework class markers.
func (r *Resolver) ClassMarkers() []string {
	return append([]string(nil), r.classMarkers...)
}

// Resolve returns the descriptor for n in priority order: id, test id,
// aria-label, framework class, positional path.
func (r *Resolver) Resolve(n Node) Descriptor {
	if v := attr(n, "id"); v != "" {
		return Descriptor{Kind: KindID, Value: v}
	}
	for _, name := range TestIDAttributes {
		if v := attr(n, name); v != "" {
			return Descriptor{Kind: KindTestID, Value: v}
		}
	}
	if v := attr(n, "aria-label"); v != "" {
		return Descriptor{Kind: KindAriaLabel, Value: v}
	}
	if c := r.frameworkClass(n); c != "" {
		return Descriptor{Kind: KindClass, Value: c}
	}
	return Descriptor{Kind: KindPath, Value: Path(n)}
}

func (r *Resolver) frameworkClass(n Node) string {
	for _, c := range strings.Fields(attr(n, "class")) {
		for _, m := range r.classMarkers {
			if strings.Contains(c, m) {
				return c
			}
		}
	}
	return ""
}

// Path builds a positional path expression for n. An id-bearing element
// short-circuits to id("..."), the body (or a parentless element) yields its
// tag name, anything else is parentPath/TAG[k] where k counts same-tag
// element siblings before n, starting at 1. An id containing a double quote
// cannot be written as a literal and is treated as absent.
func Path(n Node) string {
	if id := attr(n, "id"); id != "" && !strings.Contains(id, `"`) {
		return `id("` + id + `")`
	}
	tag := strings.ToUpper(n.TagName())
	parent := n.Parent()
	if parent == nil || tag == "BODY" {
		return tag
	}

	ix := 1
	for _, sib := range parent.Children() {
		if sib == n {
			break
		}
		if strings.EqualFold(sib.TagName(), n.TagName()) {
			ix++
		}
	}
	return Path(parent) + "/" + tag + "[" + strconv.Itoa(ix) + "]"
}

// Find walks the subtree rooted at root depth-first and returns the first
// node satisfying match, or nil.
func Find(root Node, match func(Node) bool) Node {
	if root == nil {
		return nil
	}
	if match(root) {
		return root
	}
	for _, c := range root.Children() {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n Node, name string) string {
	v, ok := n.Attribute(name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
