package schema

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// HyperLinkData is the value of a HyperLink field.
type HyperLinkData struct {
	Href   string `json:"Href" xml:"href,attr,omitempty"`
	Text   string `json:"Text" xml:",chardata"`
	Title  string `json:"Title" xml:"title,attr,omitempty"`
	Target string `json:"Target" xml:"target,attr,omitempty"`
}

type anchor struct {
	XMLName xml.Name `xml:"a"`
	HyperLinkData
}

// URLFormat restricts the kind of URL a HyperLink field accepts.
type URLFormat string

const (
	URLFormatAny      URLFormat = "Any"
	URLFormatAbsolute URLFormat = "Absolute"
	URLFormatRelative URLFormat = "Relative"
)

// HyperLinkConfig configures HyperLink fields.
type HyperLinkConfig struct {
	URLFormat URLFormat `json:"UrlFormat"`
}

type hyperLinkHandler struct{ baseHandler }

func (hyperLinkHandler) TypeName() string { return "HyperLink" }

func (hyperLinkHandler) ParseConfig(base any, el *Element) (any, error) {
	cfg := HyperLinkConfig{URLFormat: URLFormatAny}
	if b, ok := base.(HyperLinkConfig); ok {
		cfg = b
	}
	if v, ok := el.ChildText("UrlFormat"); ok {
		switch f := URLFormat(v); f {
		case URLFormatAny, URLFormatAbsolute, URLFormatRelative:
			cfg.URLFormat = f
		default:
			return nil, fmt.Errorf("invalid UrlFormat %q", v)
		}
	}
	return cfg, nil
}

func (hyperLinkHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if strings.HasPrefix(text, "<a") {
		var a anchor
		if err := xml.Unmarshal([]byte(text), &a); err != nil {
			return nil, fmt.Errorf("%w: %v (field %s)", ErrInvalidValue, err, fs.Name)
		}
		hd := a.HyperLinkData
		return &hd, nil
	}
	return &HyperLinkData{Href: text}, nil
}

func (h hyperLinkHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	href, ok := el.Attr("href")
	if !ok {
		return h.ParseText(fs, el.Text)
	}
	hd := &HyperLinkData{Href: href, Text: el.TrimmedText()}
	hd.Title, _ = el.Attr("title")
	hd.Target, _ = el.Attr("target")
	return hd, nil
}

func (hyperLinkHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	hd, ok := value.(*HyperLinkData)
	if !ok || hd == nil {
		return nil
	}
	el.SetAttr("href", hd.Href)
	if hd.Title != "" {
		el.SetAttr("title", hd.Title)
	}
	if hd.Target != "" {
		el.SetAttr("target", hd.Target)
	}
	el.Text = hd.Text
	return nil
}

func toHyperLink(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *HyperLinkData:
		if t == nil || t.Href == "" {
			return nil, nil
		}
		return t, nil
	case string:
		return hyperLinkHandler{}.ParseText(fs, t)
	case map[string]any:
		hd := &HyperLinkData{}
		hd.Href, _ = t["Href"].(string)
		hd.Text, _ = t["Text"].(string)
		hd.Title, _ = t["Title"].(string)
		hd.Target, _ = t["Target"].(string)
		if hd.Href == "" {
			return nil, nil
		}
		return hd, nil
	}
	return nil, invalidValue(fs, v)
}

func (hyperLinkHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	v, err := toHyperLink(fs, value)
	if err != nil || v == nil {
		return nil, err
	}
	data, err := xml.Marshal(anchor{HyperLinkData: *v.(*HyperLinkData)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v (field %s)", ErrInvalidValue, err, fs.Name)
	}
	return string(data), nil
}

func (hyperLinkHandler) FromSlot(fs *FieldSetting, slot any) (any, error) {
	return toHyperLink(fs, slot)
}

func (hyperLinkHandler) FromJSON(fs *FieldSetting, raw any) (any, error) {
	return toHyperLink(fs, raw)
}

func (hyperLinkHandler) ToJSON(fs *FieldSetting, value any) any {
	hd, ok := value.(*HyperLinkData)
	if !ok || hd == nil {
		return nil
	}
	return map[string]any{"Href": hd.Href, "Text": hd.Text, "Title": hd.Title, "Target": hd.Target}
}

func (hyperLinkHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	hd, ok := value.(*HyperLinkData)
	if !ok || hd == nil {
		return nil
	}
	cfg, _ := fs.Config.(HyperLinkConfig)
	u, err := url.Parse(hd.Href)
	if err != nil {
		return Invalid(CodeInvalidURL, "href", hd.Href)
	}
	switch cfg.URLFormat {
	case URLFormatAbsolute:
		if !u.IsAbs() {
			return Invalid(CodeInvalidURL, "href", hd.Href, "format", string(cfg.URLFormat))
		}
	case URLFormatRelative:
		if u.IsAbs() || u.Host != "" {
			return Invalid(CodeInvalidURL, "href", hd.Href, "format", string(cfg.URLFormat))
		}
	}
	return nil
}

func (hyperLinkHandler) Comparable(fs *FieldSetting, value any) any {
	if hd, ok := value.(*HyperLinkData); ok && hd != nil {
		return hd.Href
	}
	return nil
}
