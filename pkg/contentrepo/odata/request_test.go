package odata

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

func TestParseRequest_Path(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		want     Request
	}{
		{name: "collection", resource: "Root/Docs", want: Request{Path: "/Root/Docs"}},
		{name: "root entity", resource: "('Root')", want: Request{Path: "/Root", IsEntity: true}},
		{name: "entity", resource: "Root/Docs('a.txt')", want: Request{Path: "/Root/Docs/a.txt", IsEntity: true}},
		{name: "escaped quote", resource: "Root('it''s')", want: Request{Path: "/Root/it's", IsEntity: true}},
		{name: "by id", resource: "content(42)", want: Request{ID: 42, IsEntity: true}},
		{name: "by id case insensitive", resource: "Content(7)", want: Request{ID: 7, IsEntity: true}},
		{name: "auto name is a segment", resource: "Root/Folder(1)", want: Request{Path: "/Root/Folder(1)"}},
		{name: "member", resource: "Root('Docs')/Owner", want: Request{Path: "/Root/Docs", IsEntity: true, Member: "Owner"}},
		{name: "raw value", resource: "Root('Docs')/Name/$value", want: Request{Path: "/Root/Docs", IsEntity: true, Member: "Name", IsRawValue: true}},
		{name: "count", resource: "Root/Docs/$count", want: Request{Path: "/Root/Docs", IsCount: true}},
		{name: "metadata", resource: "$metadata", want: Request{IsMetadata: true}},
		{name: "entity metadata", resource: "Root('Docs')/$metadata", want: Request{Path: "/Root/Docs", IsEntity: true, IsMetadata: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.resource, url.Values{})
			require.NoError(t, err)
			assert.Equal(t, tt.want.Path, req.Path)
			assert.Equal(t, tt.want.ID, req.ID)
			assert.Equal(t, tt.want.IsEntity, req.IsEntity)
			assert.Equal(t, tt.want.IsCount, req.IsCount)
			assert.Equal(t, tt.want.IsMetadata, req.IsMetadata)
			assert.Equal(t, tt.want.IsRawValue, req.IsRawValue)
			assert.Equal(t, tt.want.Member, req.Member)
		})
	}
}

func TestParseRequest_InvalidPath(t *testing.T) {
	for _, resource := range []string{"", "/", "content(x)", "content(0)", "Root('')", "Root('a')/Name/$count", "Root('a')/$links", "Root('a')/Name/$value/x"} {
		t.Run(resource, func(t *testing.T) {
			_, err := ParseRequest(resource, url.Values{})
			var oe *Error
			require.True(t, errors.As(err, &oe), "error %v", err)
			assert.Equal(t, 400, oe.Status)
		})
	}
}

func TestParseRequest_Query(t *testing.T) {
	q := url.Values{
		"$top":         {"10"},
		"$skip":        {"5"},
		"$select":      {"Name, Owner/Name"},
		"$expand":      {"Owner"},
		"$orderby":     {"Index desc, Name"},
		"$filter":      {" Index gt 1 "},
		"$inlinecount": {"allpages"},
		"$format":      {"typeahead"},
		"metadata":     {"no"},
	}
	req, err := ParseRequest("Root", q)
	require.NoError(t, err)

	assert.Equal(t, 10, req.Top)
	assert.Equal(t, 5, req.Skip)
	assert.Equal(t, []string{"Name", "Owner/Name"}, req.Select)
	assert.Equal(t, []string{"Owner"}, req.Expand)
	assert.Equal(t, []contentrepo.OrderBy{{Field: "Index", Desc: true}, {Field: "Name"}}, req.OrderBy)
	assert.Equal(t, "Index gt 1", req.Filter)
	assert.True(t, req.InlineCount)
	assert.Equal(t, FormatTypeahead, req.Format)
	assert.Equal(t, MetadataNo, req.Metadata)
	assert.Equal(t, "collection", req.Kind())
}

func TestParseRequest_QueryDefaults(t *testing.T) {
	req, err := ParseRequest("Root", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, FormatVerbose, req.Format)
	assert.Equal(t, MetadataFull, req.Metadata)
	assert.False(t, req.InlineCount)
	assert.Zero(t, req.Top)
	assert.Nil(t, req.Select)
}

func TestParseRequest_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		code  string
	}{
		{"top not a number", "$top", "ten", CodeInvalidTopParameter},
		{"negative top", "$top", "-1", CodeNegativeTopParameter},
		{"skip not a number", "$skip", "x", CodeInvalidSkipParameter},
		{"negative skip", "$skip", "-3", CodeNegativeSkipParameter},
		{"inlinecount", "$inlinecount", "some", CodeInvalidInlineCountParameter},
		{"format", "$format", "atom", CodeInvalidFormatParameter},
		{"orderby direction", "$orderby", "Name up", CodeInvalidOrderByParameter},
		{"orderby navigation", "$orderby", "Owner/Name", CodeInvalidOrderByParameter},
		{"select", "$select", "Name,", CodeInvalidSelectParameter},
		{"expand", "$expand", "Owner-Name", CodeInvalidExpandParameter},
		{"metadata", "metadata", "verbose", CodeInvalidMetadataParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest("Root", url.Values{tt.key: {tt.value}})
			var oe *Error
			require.True(t, errors.As(err, &oe), "error %v", err)
			assert.Equal(t, tt.code, oe.Code)
			assert.Equal(t, 400, oe.Status)
		})
	}
}

func TestRequestKind(t *testing.T) {
	tests := []struct {
		resource string
		kind     string
	}{
		{"$metadata", "metadata"},
		{"Root/$count", "count"},
		{"Root('a')/Name/$value", "value"},
		{"Root('a')/Name", "member"},
		{"Root('a')", "entity"},
		{"Root", "collection"},
	}
	for _, tt := range tests {
		req, err := ParseRequest(tt.resource, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.kind, req.Kind(), tt.resource)
	}
}
