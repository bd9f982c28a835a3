package odata

import (
	"bytes"
	"encoding/xml"

	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// SchemaNamespace is the namespace of the entity types in $metadata.
const SchemaNamespace = "ContentRepository"

type edmx struct {
	XMLName      xml.Name     `xml:"edmx:Edmx"`
	Version      string       `xml:"Version,attr"`
	XmlnsEdmx    string       `xml:"xmlns:edmx,attr"`
	DataServices dataServices `xml:"edmx:DataServices"`
}

type dataServices struct {
	XmlnsM             string    `xml:"xmlns:m,attr"`
	DataServiceVersion string    `xml:"m:DataServiceVersion,attr"`
	Schema             edmSchema `xml:"Schema"`
}

type edmSchema struct {
	Xmlns        string          `xml:"xmlns,attr"`
	Namespace    string          `xml:"Namespace,attr"`
	EntityTypes  []entityType    `xml:"EntityType"`
	Associations []association   `xml:"Association"`
	Container    entityContainer `xml:"EntityContainer"`
}

type entityType struct {
	Name       string               `xml:"Name,attr"`
	BaseType   string               `xml:"BaseType,attr,omitempty"`
	Key        *entityKey           `xml:"Key,omitempty"`
	Properties []property           `xml:"Property"`
	Navigation []navigationProperty `xml:"NavigationProperty"`
}

type entityKey struct {
	PropertyRef propertyRef `xml:"PropertyRef"`
}

type propertyRef struct {
	Name string `xml:"Name,attr"`
}

type property struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Nullable string `xml:"Nullable,attr"`
}

type navigationProperty struct {
	Name         string `xml:"Name,attr"`
	Relationship string `xml:"Relationship,attr"`
	FromRole     string `xml:"FromRole,attr"`
	ToRole       string `xml:"ToRole,attr"`
}

type association struct {
	Name string           `xml:"Name,attr"`
	Ends []associationEnd `xml:"End"`
}

type associationEnd struct {
	Type         string `xml:"Type,attr"`
	Role         string `xml:"Role,attr"`
	Multiplicity string `xml:"Multiplicity,attr"`
}

type entityContainer struct {
	Name      string      `xml:"Name,attr"`
	IsDefault string      `xml:"m:IsDefaultEntityContainer,attr"`
	Sets      []entitySet `xml:"EntitySet"`
}

type entitySet struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
}

// BuildMetadata renders the EDMX document describing the given content
// types. Each type lists the fields it declares; inherited fields come from
// its BaseType.
func BuildMetadata(types []*schema.ContentType) ([]byte, error) {
	s := edmSchema{
		Xmlns:     "http://schemas.microsoft.com/ado/2008/09/edm",
		Namespace: SchemaNamespace,
		Container: entityContainer{Name: SchemaNamespace + "Container", IsDefault: "true"},
	}
	for _, ct := range types {
		et := entityType{Name: ct.Name}
		if ct.Parent != nil {
			et.BaseType = SchemaNamespace + "." + ct.Parent.Name
		} else {
			et.Key = &entityKey{PropertyRef: propertyRef{Name: "Id"}}
			s.Container.Sets = append(s.Container.Sets, entitySet{Name: "Content", EntityType: SchemaNamespace + "." + ct.Name})
		}
		for _, fs := range ct.FieldSettings {
			if fs.Owner != ct || fs.ParentSetting != nil {
				continue
			}
			if schema.IsReference(fs) {
				nav, assoc := referenceNavigation(ct, fs)
				et.Navigation = append(et.Navigation, nav)
				s.Associations = append(s.Associations, assoc)
				continue
			}
			nullable := "true"
			if fs.Compulsory {
				nullable = "false"
			}
			et.Properties = append(et.Properties, property{Name: fs.Name, Type: fs.Handler().EdmType(fs), Nullable: nullable})
		}
		s.EntityTypes = append(s.EntityTypes, et)
	}

	doc := edmx{
		Version:   "1.0",
		XmlnsEdmx: "http://schemas.microsoft.com/ado/2007/06/edmx",
		DataServices: dataServices{
			XmlnsM:             "http://schemas.microsoft.com/ado/2007/08/dataservices/metadata",
			DataServiceVersion: "2.0",
			Schema:             s,
		},
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func referenceNavigation(ct *schema.ContentType, fs *schema.FieldSetting) (navigationProperty, association) {
	cfg := schema.ReferenceConfigOf(fs)
	target := "GenericContent"
	if len(cfg.AllowedTypes) == 1 {
		target = cfg.AllowedTypes[0]
	}
	multiplicity := "0..1"
	if cfg.AllowMultiple {
		multiplicity = "*"
	}
	name := ct.Name + "_" + fs.Name
	from, to := ct.Name, fs.Name
	if from == to {
		to += "Target"
	}
	nav := navigationProperty{
		Name:         fs.Name,
		Relationship: SchemaNamespace + "." + name,
		FromRole:     from,
		ToRole:       to,
	}
	assoc := association{
		Name: name,
		Ends: []associationEnd{
			{Type: SchemaNamespace + "." + ct.Name, Role: from, Multiplicity: "*"},
			{Type: SchemaNamespace + "." + target, Role: to, Multiplicity: multiplicity},
		},
	}
	return nav, assoc
}
