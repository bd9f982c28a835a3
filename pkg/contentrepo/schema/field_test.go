package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slotMap map[string]any

func (s slotMap) Slot(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

func (s slotMap) SetSlot(name string, value any) error {
	s[name] = value
	return nil
}

// fieldSetting parses a single field definition for tests.
func fieldSetting(t *testing.T, xml string) *FieldSetting {
	t.Helper()
	el, err := ParseElement([]byte(xml))
	require.NoError(t, err)
	fs, err := newFieldSetting(el, &ContentType{Name: "Test"}, nil)
	require.NoError(t, err)
	return fs
}

type fakeImport struct {
	paths  map[string]int
	files  map[string]string
	stored []*BinaryData
}

func (f *fakeImport) Context() context.Context { return context.Background() }

func (f *fakeImport) ResolvePath(path string) (int, error) {
	if id, ok := f.paths[path]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("not found: %s", path)
}

func (f *fakeImport) OpenAttachment(name string) (io.ReadCloser, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("missing attachment %s", name)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeImport) StoreBinary(fileName, contentType string, r io.Reader) (*BinaryData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	bd := &BinaryData{BlobKey: "blob-" + fileName, FileName: fileName, ContentType: contentType, Size: int64(len(data))}
	f.stored = append(f.stored, bd)
	return bd, nil
}

type fakeExport struct {
	paths map[int]string
}

func (f *fakeExport) Context() context.Context { return context.Background() }

func (f *fakeExport) PathOf(id int) (string, error) {
	if p, ok := f.paths[id]; ok {
		return p, nil
	}
	return "", fmt.Errorf("no node %d", id)
}

func (f *fakeExport) WriteAttachment(fs *FieldSetting, data *BinaryData) (string, error) {
	return data.FileName, nil
}

func TestField_ShortText(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Title" type="ShortText"><Configuration><MinLength>2</MinLength><MaxLength>5</MaxLength><Regex>^[a-z]+$</Regex></Configuration></Field>`)
	slots := slotMap{}
	f := NewField(fs, slots)

	require.NoError(t, f.SetData("abc"))
	v, err := f.GetData()
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	assert.Nil(t, f.Validate())

	tests := []struct {
		value string
		code  string
	}{
		{"a", CodeMinLength},
		{"abcdef", CodeMaxLength},
		{"ab1", CodeRegEx},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			r := fs.Validate(tt.value)
			require.NotNil(t, r)
			assert.Equal(t, tt.code, r.Code)
		})
	}

	assert.Nil(t, fs.Validate(""), "empty values are valid unless compulsory")
	fs.Compulsory = true
	r := fs.Validate("")
	require.NotNil(t, r)
	assert.Equal(t, CodeCompulsory, r.Code)
}

func TestField_ShortTextDefaultMaxLength(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Title" type="ShortText"/>`)
	r := fs.Validate(strings.Repeat("x", DefaultShortTextMaxLength+1))
	require.NotNil(t, r)
	assert.Equal(t, CodeMaxLength, r.Code)

	long := fieldSetting(t, `<Field name="Body" type="LongText"/>`)
	assert.Nil(t, long.Validate(strings.Repeat("x", DefaultShortTextMaxLength+1)))
}

func TestField_Integer(t *testing.T) {
	fs := fieldSetting(t, `<Field name="N" type="Integer"><Configuration><MinValue>0</MinValue><MaxValue>10</MaxValue></Configuration></Field>`)
	h := fs.Handler()

	v, err := h.FromJSON(fs, float64(7))
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = h.FromJSON(fs, 7.5)
	assert.ErrorIs(t, err, ErrInvalidValue)

	assert.Equal(t, CodeMaxValue, fs.Validate(11).Code)
	assert.Equal(t, CodeMinValue, fs.Validate(-1).Code)
	assert.Nil(t, fs.Validate(10))
	assert.Equal(t, "Edm.Int32", h.EdmType(fs))

	// slots decoded from JSON come back as float64
	slots := slotMap{"N": float64(3)}
	got, err := NewField(fs, slots).GetData()
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestField_Number(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Price" type="Currency"><Configuration><MinValue>0</MinValue><MaxValue>100.5</MaxValue><Digits>2</Digits></Configuration></Field>`)
	slots := slotMap{}
	f := NewField(fs, slots)

	require.NoError(t, f.SetData("12.345"))
	assert.Equal(t, "12.35", slots["Price"])

	v, err := f.GetData()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.35").Equal(v.(decimal.Decimal)))
	assert.Equal(t, json.Number("12.35"), fs.Handler().ToJSON(fs, v))
	assert.Equal(t, 12.35, f.Comparable())

	assert.Equal(t, CodeMaxValue, fs.Validate(decimal.RequireFromString("100.51")).Code)
	assert.Equal(t, CodeMinValue, fs.Validate(decimal.RequireFromString("-0.01")).Code)
	assert.Equal(t, CodeDigits, fs.Validate(decimal.RequireFromString("1.234")).Code)
	assert.Nil(t, fs.Validate(decimal.RequireFromString("1.20")))
}

func TestField_Choice(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Color" type="Choice"><Configuration>
		<AllowMultiple>false</AllowMultiple>
		<AllowExtraValue>true</AllowExtraValue>
		<Options>
			<Option value="r" selected="true">Red</Option>
			<Option value="g">Green</Option>
		</Options>
	</Configuration></Field>`)
	h := fs.Handler()

	v, err := h.ParseText(fs, "Green")
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, v)

	v, err = h.FromJSON(fs, []any{"purple"})
	require.NoError(t, err)
	assert.Equal(t, []string{"~other.purple"}, v)
	assert.Nil(t, fs.Validate(v))

	assert.Equal(t, CodeMultipleNotAllowed, fs.Validate([]string{"r", "g"}).Code)
	assert.Equal(t, CodeNotValidOption, fs.Validate([]string{"x"}).Code)
	assert.Equal(t, []string{"r"}, DefaultChoice(fs))

	cfg := fs.Config.(ChoiceConfig)
	assert.Equal(t, "Red", cfg.DisplayText("r"))
	assert.Equal(t, "purple", cfg.DisplayText("~other.purple"))

	strict := fieldSetting(t, `<Field name="C" type="Choice"><Configuration><Options><Option value="a">A</Option></Options></Configuration></Field>`)
	assert.Equal(t, CodeExtraValueNotAllowed, strict.Validate([]string{"~other.z"}).Code)
}

func TestField_DateTime(t *testing.T) {
	fs := fieldSetting(t, `<Field name="When" type="DateTime"><Configuration><Precision>Minute</Precision></Configuration></Field>`)
	h := fs.Handler()

	v, err := h.ParseText(fs, "2024-03-05T10:11:12.5Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 11, 0, 0, time.UTC), v)

	v, err = h.FromJSON(fs, "/Date(1709633472000)/")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 11, 0, 0, time.UTC), v)

	date := fieldSetting(t, `<Field name="Day" type="DateTime"><Configuration><DateTimeMode>Date</DateTimeMode></Configuration></Field>`)
	v, err = date.Handler().ParseText(date, "2024-03-05 22:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), v)
	assert.Equal(t, "2024-03-05T00:00:00Z", date.Handler().ToJSON(date, v))

	_, err = h.ParseText(fs, "not a date")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestField_Reference(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Ref" type="Reference"/>`)
	h := fs.Handler()

	v, err := h.FromJSON(fs, []any{float64(3), map[string]any{"Id": float64(4)}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, v)
	assert.Equal(t, CodeMultipleNotAllowed, fs.Validate(v).Code)

	v, err = h.FromJSON(fs, "/Root/a")
	require.NoError(t, err)
	assert.Equal(t, ReferencePaths{"/Root/a"}, v)
	_, err = h.ToSlot(fs, v)
	assert.ErrorIs(t, err, ErrInvalidValue)

	imp := &fakeImport{paths: map[string]int{"/Root/a": 10, "/Root/b": 11}}
	el, err := ParseElement([]byte(`<Ref><Path>/Root/a</Path><Path>/Root/b</Path></Ref>`))
	require.NoError(t, err)
	v, err = h.ImportXML(imp, fs, el)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, v)

	out := NewElement("Ref", "")
	require.NoError(t, h.ExportXML(&fakeExport{paths: map[int]string{10: "/Root/a"}}, fs, []int{10}, out))
	require.Len(t, out.Children, 1)
	assert.Equal(t, "/Root/a", out.Children[0].Text)

	// single references are stored as int in system slots
	got, err := h.FromSlot(fs, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, got)
	assert.Equal(t, int64(7), h.Comparable(fs, got))
}

func TestField_Binary(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Binary" type="Binary"/>`)
	h := fs.Handler()
	imp := &fakeImport{files: map[string]string{"doc.txt": "hello"}}

	el, err := ParseElement([]byte(`<Binary attachment="doc.txt"/>`))
	require.NoError(t, err)
	v, err := h.ImportXML(imp, fs, el)
	require.NoError(t, err)
	bd := v.(*BinaryData)
	assert.Equal(t, "doc.txt", bd.FileName)
	assert.Equal(t, int64(5), bd.Size)
	assert.True(t, strings.HasPrefix(bd.ContentType, "text/plain"))

	// slot survives a JSON round trip
	data, err := json.Marshal(bd)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	back, err := h.FromSlot(fs, raw)
	require.NoError(t, err)
	if diff := cmp.Diff(bd, back); diff != "" {
		t.Errorf("binary slot mismatch (-want +got):\n%s", diff)
	}

	out := NewElement("Binary", "")
	require.NoError(t, h.ExportXML(&fakeExport{}, fs, bd, out))
	name, _ := out.Attr("attachment")
	assert.Equal(t, "doc.txt", name)
}

func TestField_HyperLink(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Link" type="HyperLink"><Configuration><UrlFormat>Absolute</UrlFormat></Configuration></Field>`)
	slots := slotMap{}
	f := NewField(fs, slots)

	el, err := ParseElement([]byte(`<Link href="https://example.com" target="_blank">Example</Link>`))
	require.NoError(t, err)
	require.NoError(t, f.ImportXML(&fakeImport{}, el))

	v, err := f.GetData()
	require.NoError(t, err)
	assert.Equal(t, &HyperLinkData{Href: "https://example.com", Text: "Example", Target: "_blank"}, v)
	assert.Contains(t, slots["Link"], `href="https://example.com"`)
	assert.Nil(t, f.Validate())

	r := fs.Validate(&HyperLinkData{Href: "/relative"})
	require.NotNil(t, r)
	assert.Equal(t, CodeInvalidURL, r.Code)
}

func TestField_Color(t *testing.T) {
	fs := fieldSetting(t, `<Field name="C" type="Color"/>`)
	v, err := fs.Handler().FromJSON(fs, "abc")
	require.NoError(t, err)
	assert.Equal(t, "#AABBCC", v)
	assert.Nil(t, fs.Validate(v))
	assert.Equal(t, CodeInvalidColor, fs.Validate("#GG0000").Code)

	palette := fieldSetting(t, `<Field name="C" type="Color"><Configuration><Palette><Color>#ff0000</Color></Palette></Configuration></Field>`)
	assert.Nil(t, palette.Validate("#FF0000"))
	assert.Equal(t, CodeNotValidOption, palette.Validate("#00FF00").Code)
}

func TestField_Password(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Password" type="Password"><Configuration><MinLength>4</MinLength></Configuration></Field>`)
	h := fs.Handler()
	slots := slotMap{}
	f := NewField(fs, slots)

	v, err := h.FromJSON(fs, "abc")
	require.NoError(t, err)
	assert.Equal(t, CodeMinLength, fs.Validate(v).Code)

	v, err = h.FromJSON(fs, "secret")
	require.NoError(t, err)
	require.NoError(t, f.SetData(v))
	assert.NotEqual(t, "secret", slots["Password"])

	stored, err := f.GetData()
	require.NoError(t, err)
	assert.True(t, CheckPassword(stored, "secret"))
	assert.False(t, CheckPassword(stored, "wrong"))
	assert.Nil(t, h.ToJSON(fs, stored))
}

func TestField_PasswordTooLong(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Password" type="Password"/>`)
	h := fs.Handler()
	long := strings.Repeat("p", 80)

	v, err := h.FromJSON(fs, long)
	require.NoError(t, err)
	r := fs.Validate(v)
	require.NotNil(t, r)
	assert.Equal(t, CodeMaxLength, r.Code)

	_, err = h.ToSlot(fs, v)
	assert.ErrorIs(t, err, ErrInvalidValue)

	v, err = h.FromJSON(fs, strings.Repeat("p", MaxPasswordBytes))
	require.NoError(t, err)
	assert.Nil(t, fs.Validate(v))
	_, err = h.ToSlot(fs, v)
	assert.NoError(t, err)
}

func TestRatingConfig_Round(t *testing.T) {
	tests := []struct {
		split int
		avg   float64
		want  float64
	}{
		{split: 1, avg: 3.4, want: 3},
		{split: 1, avg: 3.6, want: 4},
		{split: 2, avg: 3.4, want: 3.5},
		{split: 2, avg: 3.2, want: 3},
		{split: 4, avg: 3.3, want: 3.25},
		{split: 0, avg: 2.5, want: 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RatingConfig{Range: 5, Split: tt.split}.Round(tt.avg), "split %d avg %v", tt.split, tt.avg)
	}

	fs := fieldSetting(t, `<Field name="Stars" type="Rating"><Configuration><Split>2</Split></Configuration></Field>`)
	assert.Equal(t, 3.5, RatingConfigOf(fs).Round(3.4))
}

func TestField_Rating(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Stars" type="Rating"/>`)
	h := fs.Handler()

	v, err := h.ParseText(fs, "4")
	require.NoError(t, err)
	r := v.(*RatingData)
	require.NoError(t, r.Vote(2))
	assert.Equal(t, 3.0, r.Average)
	assert.Equal(t, 2, r.Count)

	slot, err := h.ToSlot(fs, r)
	require.NoError(t, err)
	assert.Equal(t, "3|2|0|1|0|1|0", slot)

	back, err := h.FromSlot(fs, slot)
	require.NoError(t, err)
	assert.Equal(t, r, back)
	assert.Error(t, r.Vote(6))
	assert.Equal(t, CodeInvalidRating, fs.Validate(&RatingData{Average: 1, Count: 1, Hist: []int{1}}).Code)
}

func TestField_Version(t *testing.T) {
	v, err := ParseVersion("V2.1.D")
	require.NoError(t, err)
	assert.Equal(t, VersionNumber{Major: 2, Minor: 1, Status: "D"}, v)
	assert.Equal(t, "V3.0.D", v.NextMajor().String())

	_, err = ParseVersion("2.1")
	assert.ErrorIs(t, err, ErrInvalidValue)

	v2, _ := ParseVersion("V2.0.A")
	v10, _ := ParseVersion("V10.0.A")
	assert.Less(t, v2.SortKey(), v10.SortKey())
	assert.Equal(t, v10.SortKey(), VersionSortKey(v10.SortKey()))
	assert.Equal(t, "draft", VersionSortKey("draft"))

	fs := fieldSetting(t, `<Field name="Version" type="Version"/>`)
	assert.Less(t, fs.Handler().Comparable(fs, v2).(string), fs.Handler().Comparable(fs, v10).(string))
}

func TestField_BinaryRejectsClientValues(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Binary" type="Binary"/>`)
	_, err := fs.Handler().FromJSON(fs, map[string]any{"blob_key": "someone/else", "backend": "memory"})
	assert.ErrorIs(t, err, ErrInvalidValue)

	assert.True(t, IsMediaResource(map[string]any{"__mediaresource": map[string]any{}}))
	assert.False(t, IsMediaResource(map[string]any{"blob_key": "k"}))
	assert.False(t, IsMediaResource("k"))
}

func TestField_ExportXML(t *testing.T) {
	fs := fieldSetting(t, `<Field name="Flag" type="Boolean"/>`)
	slots := slotMap{}
	f := NewField(fs, slots)

	el, err := f.ExportXML(&fakeExport{})
	require.NoError(t, err)
	assert.Nil(t, el, "empty values are not exported")

	require.NoError(t, f.SetData(true))
	el, err = f.ExportXML(&fakeExport{})
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "Flag", el.Name())
	assert.Equal(t, "true", el.Text)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty([]string{}))
	assert.True(t, IsEmpty([]int(nil)))
	assert.True(t, IsEmpty((*BinaryData)(nil)))
	assert.False(t, IsEmpty(0))
	assert.False(t, IsEmpty(false))
	assert.False(t, IsEmpty([]int{1}))
}
