package importer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"

	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// metadata is the content of a .Content file:
//
//	<ContentMetaData>
//	  <ContentType>File</ContentType>
//	  <ContentName>readme.txt</ContentName>
//	  <Fields>
//	    <DisplayName>Read me</DisplayName>
//	    <Binary attachment="readme.txt" />
//	  </Fields>
//	</ContentMetaData>
type metadata struct {
	ContentType string
	ContentName string
	Fields      *schema.Element
}

func readMetadata(path string) (*metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parseMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func parseMetadata(data []byte) (*metadata, error) {
	root, err := schema.ParseElement(data)
	if err != nil {
		return nil, err
	}
	if root.Name() != "ContentMetaData" {
		return nil, fmt.Errorf("root element is %s, expected ContentMetaData", root.Name())
	}
	m := &metadata{Fields: root.Child("Fields")}
	m.ContentType, _ = root.ChildText("ContentType")
	m.ContentName, _ = root.ChildText("ContentName")
	if m.ContentType == "" {
		return nil, fmt.Errorf("missing ContentType")
	}
	return m, nil
}

// attachments lists the files referenced by attachment attributes.
func (m *metadata) attachments() []string {
	if m.Fields == nil {
		return nil
	}
	var out []string
	for i := range m.Fields.Children {
		if a, ok := m.Fields.Children[i].Attr("attachment"); ok && a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (m *metadata) marshal() ([]byte, error) {
	root := schema.NewElement("ContentMetaData", "")
	root.Append(schema.NewElement("ContentType", m.ContentType))
	root.Append(schema.NewElement("ContentName", m.ContentName))
	fields := schema.NewElement("Fields", "")
	if m.Fields != nil {
		fields.Children = m.Fields.Children
	}
	root.Append(fields)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func binaryElement(field, attachment string) *schema.Element {
	el := schema.NewElement(field, "")
	el.SetAttr("attachment", attachment)
	return el
}
