package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateTimeMode controls which part of a DateTime value is meaningful.
type DateTimeMode string

const (
	DateTimeModeNone        DateTimeMode = "None"
	DateTimeModeDate        DateTimeMode = "Date"
	DateTimeModeDateAndTime DateTimeMode = "DateAndTime"
)

// Precision is the unit DateTime values are truncated to when stored.
type Precision string

const (
	PrecisionMillisecond Precision = "Millisecond"
	PrecisionSecond      Precision = "Second"
	PrecisionMinute      Precision = "Minute"
	PrecisionHour        Precision = "Hour"
	PrecisionDay         Precision = "Day"
)

var precisionUnits = map[Precision]time.Duration{
	PrecisionMillisecond: time.Millisecond,
	PrecisionSecond:      time.Second,
	PrecisionMinute:      time.Minute,
	PrecisionHour:        time.Hour,
	PrecisionDay:         24 * time.Hour,
}

// DateTimeConfig configures DateTime fields.
type DateTimeConfig struct {
	Mode      DateTimeMode `json:"DateTimeMode"`
	Precision Precision    `json:"Precision"`
}

type dateTimeHandler struct{ baseHandler }

func (dateTimeHandler) TypeName() string { return "DateTime" }

func (dateTimeHandler) ParseConfig(base any, el *Element) (any, error) {
	cfg := DateTimeConfig{Mode: DateTimeModeDateAndTime, Precision: PrecisionSecond}
	if b, ok := base.(DateTimeConfig); ok {
		cfg = b
	}
	if v, ok := el.ChildText("DateTimeMode"); ok {
		switch m := DateTimeMode(v); m {
		case DateTimeModeNone, DateTimeModeDate, DateTimeModeDateAndTime:
			cfg.Mode = m
		default:
			return nil, fmt.Errorf("invalid DateTimeMode %q", v)
		}
	}
	if v, ok := el.ChildText("Precision"); ok {
		p := Precision(v)
		if _, known := precisionUnits[p]; !known {
			return nil, fmt.Errorf("invalid Precision %q", v)
		}
		cfg.Precision = p
	}
	return cfg, nil
}

func dateTimeConfig(fs *FieldSetting) DateTimeConfig {
	cfg, ok := fs.Config.(DateTimeConfig)
	if !ok {
		return DateTimeConfig{Mode: DateTimeModeDateAndTime, Precision: PrecisionSecond}
	}
	return cfg
}

var msDatePattern = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDateTime parses the date formats accepted in imports, OData bodies and
// filter literals. Values without a zone are UTC.
func ParseDateTime(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if m := msDatePattern.FindStringSubmatch(text); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a date", ErrInvalidValue, text)
}

func normalizeTime(cfg DateTimeConfig, t time.Time) time.Time {
	t = t.UTC()
	if cfg.Mode == DateTimeModeDate {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	if unit, ok := precisionUnits[cfg.Precision]; ok {
		t = t.Truncate(unit)
	}
	return t
}

func (dateTimeHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	t, err := ParseDateTime(text)
	if err != nil {
		return nil, fmt.Errorf("%w (field %s)", err, fs.Name)
	}
	return normalizeTime(dateTimeConfig(fs), t), nil
}

func (h dateTimeHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (dateTimeHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	if t, ok := value.(time.Time); ok && !t.IsZero() {
		el.Text = t.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

func toTime(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if t.IsZero() {
			return nil, nil
		}
		return normalizeTime(dateTimeConfig(fs), t), nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, nil
		}
		return normalizeTime(dateTimeConfig(fs), *t), nil
	case string:
		return dateTimeHandler{}.ParseText(fs, t)
	}
	return nil, invalidValue(fs, v)
}

func (dateTimeHandler) ToSlot(fs *FieldSetting, value any) (any, error) { return toTime(fs, value) }

func (dateTimeHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toTime(fs, slot) }

func (dateTimeHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toTime(fs, raw) }

func (dateTimeHandler) ToJSON(fs *FieldSetting, value any) any {
	t, ok := value.(time.Time)
	if !ok || t.IsZero() {
		return nil
	}
	if dateTimeConfig(fs).Mode == DateTimeModeDate {
		return t.UTC().Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (dateTimeHandler) Validate(fs *FieldSetting, value any) *ValidationResult { return nil }

func (dateTimeHandler) EdmType(fs *FieldSetting) string { return "Edm.DateTime" }
