package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RatingData is the value of a Rating field: a vote histogram indexed by
// star count (Hist[0] counts one-star votes).
type RatingData struct {
	Average float64 `json:"AverageRate"`
	Count   int     `json:"Count"`
	Hist    []int   `json:"Hist"`
}

// RatingConfig configures Rating fields.
type RatingConfig struct {
	Range int `json:"Range"`
	Split int `json:"Split"`
}

// Round rounds an average to the star fractions the field displays: whole
// stars for Split 1, halves for Split 2.
func (c RatingConfig) Round(avg float64) float64 {
	split := c.Split
	if split < 1 {
		split = 1
	}
	return math.Round(avg*float64(split)) / float64(split)
}

// RatingConfigOf returns the configuration of a Rating field setting.
func RatingConfigOf(fs *FieldSetting) RatingConfig {
	return ratingConfig(fs)
}

func ratingConfig(fs *FieldSetting) RatingConfig {
	cfg, ok := fs.Config.(RatingConfig)
	if !ok || cfg.Range <= 0 {
		return RatingConfig{Range: 5, Split: 1}
	}
	return cfg
}

// NewRating creates an empty rating for the given range.
func NewRating(rng int) *RatingData {
	return &RatingData{Hist: make([]int, rng)}
}

// Vote adds a vote of the given stars and recomputes the average.
func (r *RatingData) Vote(stars int) error {
	if stars < 1 || stars > len(r.Hist) {
		return fmt.Errorf("%w: rating %d outside 1..%d", ErrInvalidValue, stars, len(r.Hist))
	}
	r.Hist[stars-1]++
	r.recompute()
	return nil
}

func (r *RatingData) recompute() {
	total, count := 0, 0
	for i, n := range r.Hist {
		total += (i + 1) * n
		count += n
	}
	r.Count = count
	if count == 0 {
		r.Average = 0
		return
	}
	r.Average = math.Round(float64(total)/float64(count)*100) / 100
}

// String renders the storage form "average|count|h1|...|hN".
func (r *RatingData) String() string {
	parts := make([]string, 0, len(r.Hist)+2)
	parts = append(parts, strconv.FormatFloat(r.Average, 'f', -1, 64), strconv.Itoa(r.Count))
	for _, n := range r.Hist {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, "|")
}

// Clone returns an independent copy.
func (r *RatingData) Clone() *RatingData {
	c := *r
	c.Hist = append([]int(nil), r.Hist...)
	return &c
}

type ratingHandler struct{ baseHandler }

func (ratingHandler) TypeName() string { return "Rating" }

func (ratingHandler) ParseConfig(base any, el *Element) (any, error) {
	cfg := RatingConfig{Range: 5, Split: 1}
	if b, ok := base.(RatingConfig); ok {
		cfg = b
	}
	var rng, split *int
	if err := parseOptionalInt(el, "Range", &rng); err != nil {
		return nil, err
	}
	if err := parseOptionalInt(el, "Split", &split); err != nil {
		return nil, err
	}
	if rng != nil {
		if *rng < 1 {
			return nil, fmt.Errorf("invalid Range %d", *rng)
		}
		cfg.Range = *rng
	}
	if split != nil {
		if *split < 1 {
			return nil, fmt.Errorf("invalid Split %d", *split)
		}
		cfg.Split = *split
	}
	return cfg, nil
}

// ParseText accepts the storage form or a single star count (one vote).
func (ratingHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	cfg := ratingConfig(fs)
	r := NewRating(cfg.Range)
	if !strings.Contains(text, "|") {
		stars, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a rating (field %s)", ErrInvalidValue, text, fs.Name)
		}
		if err := r.Vote(stars); err != nil {
			return nil, fmt.Errorf("%w (field %s)", err, fs.Name)
		}
		return r, nil
	}
	parts := strings.Split(text, "|")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: malformed rating %q (field %s)", ErrInvalidValue, text, fs.Name)
	}
	for i, p := range parts[2:] {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: malformed rating %q (field %s)", ErrInvalidValue, text, fs.Name)
		}
		if i < len(r.Hist) {
			r.Hist[i] = n
		}
	}
	r.recompute()
	if r.Count == 0 {
		// no histogram, keep the stored average
		avg, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed rating %q (field %s)", ErrInvalidValue, text, fs.Name)
		}
		r.Average = avg
	}
	return r, nil
}

func (h ratingHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (ratingHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	if r, ok := value.(*RatingData); ok && r != nil {
		el.Text = r.String()
	}
	return nil
}

func toRating(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *RatingData:
		if t == nil {
			return nil, nil
		}
		return t, nil
	case string:
		return ratingHandler{}.ParseText(fs, t)
	case float64:
		return ratingHandler{}.ParseText(fs, strconv.Itoa(int(t)))
	case int:
		return ratingHandler{}.ParseText(fs, strconv.Itoa(t))
	case map[string]any:
		r := NewRating(ratingConfig(fs).Range)
		if hist, ok := t["Hist"].([]any); ok {
			for i, x := range hist {
				if n, ok := x.(float64); ok && i < len(r.Hist) {
					r.Hist[i] = int(n)
				}
			}
		}
		r.recompute()
		return r, nil
	}
	return nil, invalidValue(fs, v)
}

func (ratingHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	v, err := toRating(fs, value)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*RatingData).String(), nil
}

func (ratingHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toRating(fs, slot) }

func (ratingHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toRating(fs, raw) }

func (ratingHandler) ToJSON(fs *FieldSetting, value any) any {
	r, ok := value.(*RatingData)
	if !ok || r == nil {
		r = NewRating(ratingConfig(fs).Range)
	}
	return map[string]any{"AverageRate": r.Average, "Count": r.Count, "Hist": r.Hist}
}

func (ratingHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	r, ok := value.(*RatingData)
	if !ok || r == nil {
		return nil
	}
	cfg := ratingConfig(fs)
	if len(r.Hist) != cfg.Range || r.Average < 0 || r.Average > float64(cfg.Range) {
		return Invalid(CodeInvalidRating, "range", cfg.Range)
	}
	return nil
}

func (ratingHandler) Comparable(fs *FieldSetting, value any) any {
	if r, ok := value.(*RatingData); ok && r != nil {
		return r.Average
	}
	return nil
}

func (ratingHandler) EdmType(fs *FieldSetting) string { return "Edm.Double" }
