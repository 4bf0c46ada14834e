// Package hierarchy parses Android page source XML and matches the
// selector syntax used by plans against it.
package hierarchy

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Element is one node of the view hierarchy.
type Element struct {
	ClassName   string     `json:"className"`
	Text        string     `json:"text,omitempty"`
	ResourceID  string     `json:"resourceId,omitempty"`
	ContentDesc string     `json:"contentDesc,omitempty"`
	HintText    string     `json:"hint,omitempty"`
	Bounds      Bounds     `json:"bounds"`
	Enabled     bool       `json:"enabled"`
	Clickable   bool       `json:"clickable"`
	Focused     bool       `json:"focused,omitempty"`
	Depth       int        `json:"depth"`
	Parent      *Element   `json:"-"`
	Children    []*Element `json:"-"`
}

// Parse parses an Android UI hierarchy into a flat, depth-first element list.
func Parse(xmlData string) ([]*Element, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var elements []*Element
	foundHierarchy := false
	var parseElement func() (*Element, error)

	parseElement = func() (*Element, error) {
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, err
			}

			switch t := token.(type) {
			case xml.StartElement:
				if t.Name.Local == "hierarchy" {
					foundHierarchy = true
					continue
				}

				elem := &Element{ClassName: t.Name.Local, Enabled: true}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "text":
						elem.Text = attr.Value
					case "resource-id":
						elem.ResourceID = attr.Value
					case "content-desc":
						elem.ContentDesc = attr.Value
					case "hint":
						elem.HintText = attr.Value
					case "class":
						elem.ClassName = attr.Value
					case "bounds":
						elem.Bounds = parseBounds(attr.Value)
					case "enabled":
						elem.Enabled = attr.Value != "false"
					case "focused":
						elem.Focused = attr.Value == "true"
					case "clickable":
						elem.Clickable = attr.Value == "true"
					}
				}

				for {
					child, err := parseElement()
					if err != nil || child == nil {
						break
					}
					elem.Children = append(elem.Children, child)
				}
				return elem, nil

			case xml.EndElement:
				return nil, nil
			}
		}
	}

	var parseErr error
	for {
		elem, err := parseElement()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				parseErr = err
			}
			break
		}
		if elem != nil {
			elements = append(elements, flatten(elem, 0)...)
		}
	}

	if parseErr != nil && len(elements) == 0 {
		return nil, parseErr
	}
	if !foundHierarchy {
		return nil, fmt.Errorf("invalid page source: no hierarchy element found")
	}
	return elements, nil
}

func flatten(elem *Element, depth int) []*Element {
	elem.Depth = depth
	result := []*Element{elem}
	for _, child := range elem.Children {
		child.Parent = elem
		result = append(result, flatten(child, depth+1)...)
	}
	return result
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]".
func parseBounds(s string) Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}
	}

	x1, _ := strconv.Atoi(parts[0])
	y1, _ := strconv.Atoi(parts[1])
	x2, _ := strconv.Atoi(parts[2])
	y2, _ := strconv.Atoi(parts[3])

	return Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Selector is a parsed plan selector.
type Selector struct {
	Attr  string // text, resource-id, content-desc; empty for class or xpath
	Value string
	XPath bool
}

var attrSelector = regexp.MustCompile(`^\[(text|resource-id|content-desc)="(.*)"\]$`)

// ParseSelector understands [text="x"], [resource-id="x"], [content-desc="x"],
// XPath expressions starting with "/" and bare class names.
func ParseSelector(s string) Selector {
	s = strings.TrimSpace(s)
	if m := attrSelector.FindStringSubmatch(s); m != nil {
		return Selector{Attr: m[1], Value: m[2]}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return Selector{Value: s, XPath: true}
	}
	return Selector{Value: s}
}

// Matches reports whether the element satisfies a non-XPath selector.
func (s Selector) Matches(e *Element) bool {
	switch s.Attr {
	case "text":
		return s.Value != "" && containsFold(e.Text, s.Value)
	case "resource-id":
		return e.ResourceID == s.Value || strings.HasSuffix(e.ResourceID, ":id/"+s.Value)
	case "content-desc":
		return e.ContentDesc == s.Value
	case "":
		return !s.XPath && e.ClassName == s.Value
	}
	return false
}

// Find returns elements matching the selector in document order.
// XPath selectors are not evaluated locally and return nil.
func Find(elements []*Element, selector string) []*Element {
	sel := ParseSelector(selector)
	if sel.XPath {
		return nil
	}
	var out []*Element
	for _, e := range elements {
		if sel.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// ClickableAncestor returns the element itself if clickable, else the
// nearest clickable parent, else the element.
func ClickableAncestor(e *Element) *Element {
	if e == nil {
		return nil
	}
	for p := e; p != nil; p = p.Parent {
		if p.Clickable {
			return p
		}
	}
	return e
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
