package schema

import (
	"encoding/xml"
	"strings"
)

// Element is a generic XML element used by content type definitions and
// content import files. Field handlers read their configuration and values
// from it without knowing the enclosing document.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []Element  `xml:",any"`
}

// NewElement creates an element with the given local name and text.
func NewElement(name, text string) *Element {
	return &Element{XMLName: xml.Name{Local: name}, Text: text}
}

// Name returns the local name of the element.
func (e *Element) Name() string {
	return e.XMLName.Local
}

// Attr returns the value of the attribute with the given local name.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(name, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name.Local == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// Child returns the first child with the given local name.
func (e *Element) Child(name string) *Element {
	for i := range e.Children {
		if e.Children[i].XMLName.Local == name {
			return &e.Children[i]
		}
	}
	return nil
}

// ChildrenNamed returns all children with the given local name.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for i := range e.Children {
		if e.Children[i].XMLName.Local == name {
			out = append(out, &e.Children[i])
		}
	}
	return out
}

// ChildText returns the trimmed text of the named child and whether it exists.
func (e *Element) ChildText(name string) (string, bool) {
	c := e.Child(name)
	if c == nil {
		return "", false
	}
	return strings.TrimSpace(c.Text), true
}

// Append adds a child element and returns it.
func (e *Element) Append(child *Element) *Element {
	e.Children = append(e.Children, *child)
	return &e.Children[len(e.Children)-1]
}

// TrimmedText returns the element text without surrounding whitespace.
func (e *Element) TrimmedText() string {
	return strings.TrimSpace(e.Text)
}

// stripNamespaces clears namespaces so lookups by local name work regardless
// of the xmlns declared on the document root.
func (e *Element) stripNamespaces() {
	e.XMLName.Space = ""
	attrs := e.Attrs[:0]
	for _, a := range e.Attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		a.Name.Space = ""
		attrs = append(attrs, a)
	}
	e.Attrs = attrs
	for i := range e.Children {
		e.Children[i].stripNamespaces()
	}
}

// ParseElement decodes a complete XML document into an Element tree.
func ParseElement(data []byte) (*Element, error) {
	var el Element
	if err := xml.Unmarshal(data, &el); err != nil {
		return nil, err
	}
	el.stripNamespaces()
	return &el, nil
}
