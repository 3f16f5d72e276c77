package store

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Attribute keys understood by Item.Meta.
const (
	AttrLocation    = "location"
	AttrClient      = "client"
	AttrCost        = "cost"
	AttrSurface     = "surface"
	AttrTechnique   = "technique"
	AttrSoftware    = "software"
	AttrProjectLink = "project_link"
)

// Attributes is the decoded, kind-specific metadata of an item.
// Exactly one of ProjectAttributes, IllustrationAttributes or
// DefaultAttributes is returned by Item.Meta.
type Attributes interface {
	Kind() Kind
}

// ProjectAttributes is the metadata of a project. Zero values mean "unknown".
type ProjectAttributes struct {
	Location string
	Client   string
	Cost     float64
	Surface  float64
}

func (ProjectAttributes) Kind() Kind { return KindProject }

// IllustrationAttributes is the metadata of an illustration.
type IllustrationAttributes struct {
	Technique   string
	Software    string
	ProjectLink int64 // id of the project this illustration belongs to, 0 if none
}

func (IllustrationAttributes) Kind() Kind { return KindIllustration }

// DefaultAttributes carries nothing; articles have no scored metadata.
type DefaultAttributes struct{}

func (DefaultAttributes) Kind() Kind { return KindArticle }

// Meta decodes the raw attribute bag according to the item's kind.
// Missing keys and values that cannot be parsed (a cost of "sur devis", a
// project link of "abc") decode to zero values, which the scorer treats as
// unknown. CheckAttributes reports the unusable ones.
func (it *Item) Meta() Attributes {
	a, _ := it.decodeMeta()
	return a
}

// CheckAttributes returns the attribute values Meta had to ignore, nil when
// every present value is usable.
func (it *Item) CheckAttributes() error {
	_, err := it.decodeMeta()
	return err
}

func (it *Item) decodeMeta() (Attributes, error) {
	get := func(k string) string { return strings.TrimSpace(it.Attributes[k]) }

	var errs error
	amount := func(key string) float64 {
		v, err := parseAmount(get(key))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("item %d: %s: %w", it.ID, key, err))
		}
		return v
	}

	switch it.Kind {
	case KindProject:
		p := ProjectAttributes{
			Location: get(AttrLocation),
			Client:   get(AttrClient),
			Cost:     amount(AttrCost),
			Surface:  amount(AttrSurface),
		}
		return p, errs

	case KindIllustration:
		var link int64
		if raw := get(AttrProjectLink); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v <= 0 {
				errs = multierr.Append(errs, fmt.Errorf("item %d: %s: not an item id: %q", it.ID, AttrProjectLink, raw))
			} else {
				link = v
			}
		}
		return IllustrationAttributes{
			Technique:   get(AttrTechnique),
			Software:    get(AttrSoftware),
			ProjectLink: link,
		}, errs

	default:
		return DefaultAttributes{}, nil
	}
}

// parseAmount reads a human-entered number such as "150 000 €", "1,5",
// "1,500" or "320m²". Empty input is 0.
func parseAmount(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}

	commaIsDecimal := !strings.Contains(raw, ".") && !groupingComma(raw)

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-':
			if i > 0 {
				// "100-120 m²" is a range, not one amount.
				return 0, fmt.Errorf("not a number: %q", raw)
			}
			b.WriteRune(r)
		case r == ',' && commaIsDecimal:
			b.WriteByte('.')
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, fmt.Errorf("not a number: %q", raw)
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return v, nil
}

// groupingComma reports whether the commas of raw separate thousands:
// several of them, or a single one followed by exactly three digits that
// end the number ("1,500 €" but not "1,5" or "1,50").
func groupingComma(raw string) bool {
	switch strings.Count(raw, ",") {
	case 0:
		return false
	case 1:
	default:
		return true
	}
	after := raw[strings.IndexByte(raw, ',')+1:]
	digits := 0
	for digits < len(after) && after[digits] >= '0' && after[digits] <= '9' {
		digits++
	}
	return digits == 3 && !strings.ContainsAny(after[digits:], "0123456789")
}
