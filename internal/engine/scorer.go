package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lazypower/affinity/internal/store"
	"github.com/lazypower/affinity/internal/textsim"
)

// Strength buckets, weakest first.
const (
	StrengthVeryWeak   = "very-weak"
	StrengthWeak       = "weak"
	StrengthMedium     = "medium"
	StrengthStrong     = "strong"
	StrengthVeryStrong = "very-strong"
)

// Factor names as they appear in Result.Factors.
const (
	FactorSharedCategories = "shared_categories"
	FactorSharedTags       = "shared_tags"
	FactorTitle            = "title_similarity"
	FactorContent          = "content_similarity"
	FactorExcerpt          = "excerpt_similarity"
	FactorSameKind         = "same_kind"
	FactorSameAuthor       = "same_author"
	FactorLocation         = "project_location"
	FactorClient           = "project_client"
	FactorCost             = "project_cost"
	FactorSurface          = "project_surface"
	FactorTechnique        = "illustration_technique"
	FactorSoftware         = "illustration_software"
	FactorDirectLink       = "direct_link"
	FactorManualRelation   = "manual_relation"
	FactorDateProximity    = "date_proximity"
	FactorNamedEntities    = "named_entities"
	FactorProjectType      = "project_type"
	FactorProjectStatus    = "project_status"
	FactorIllustrationType = "illustration_type"
)

// Result is the affinity of one unordered pair of items.
type Result struct {
	Score    int                `json:"score"`
	Strength string             `json:"strength"`
	Factors  map[string]float64 `json:"factors"`
}

// StrengthOf buckets a score: >=100 very-strong, >=70 strong, >=40 medium,
// >=20 weak, anything lower very-weak.
func StrengthOf(score int) string {
	switch {
	case score >= 100:
		return StrengthVeryStrong
	case score >= 70:
		return StrengthStrong
	case score >= 40:
		return StrengthMedium
	case score >= 20:
		return StrengthWeak
	default:
		return StrengthVeryWeak
	}
}

const day = 24 * time.Hour

// Scorer computes pairwise affinity. A Scorer is one scoring pass: it
// memoizes text similarity and custom taxonomy lookups, so build a fresh one
// whenever content may have changed. Safe for concurrent use.
type Scorer struct {
	taxonomy TaxonomyProvider
	memo     *textsim.Memo

	mu    sync.Mutex
	terms map[termKey][]store.Term
}

type termKey struct {
	item     int64
	taxonomy string
}

// NewScorer returns a scorer for one pass. taxonomy may be nil, in which
// case the custom taxonomy factors never fire.
func NewScorer(taxonomy TaxonomyProvider) *Scorer {
	return &Scorer{
		taxonomy: taxonomy,
		memo:     textsim.NewMemo(),
		terms:    make(map[termKey][]store.Term),
	}
}

// Score returns the affinity of a and b. The result does not depend on the
// argument order. Missing or unreadable optional fields only skip their
// factor; taxonomy read failures are errors.
// Callers must not pass the same item twice.
func (s *Scorer) Score(ctx context.Context, a, b *store.Item) (Result, error) {
	f := make(map[string]float64)
	add := func(name string, v float64) {
		if v > 0 {
			f[name] += v
		}
	}

	add(FactorSharedCategories, 40*float64(sharedTerms(a.Categories, b.Categories)))
	add(FactorSharedTags, 25*float64(sharedTerms(a.Tags, b.Tags)))

	if sim := s.memo.Similarity(a.Title, b.Title); sim > 0.3 {
		add(FactorTitle, math.Round(20*sim))
	}
	if strings.TrimSpace(a.Excerpt) != "" && strings.TrimSpace(b.Excerpt) != "" {
		sim := s.memo.Similarity(a.Excerpt, b.Excerpt)
		if sim > 0.2 {
			add(FactorContent, math.Round(15*sim))
		}
		if sim > 0.25 {
			add(FactorExcerpt, math.Round(18*sim))
		}
	}

	if a.Kind == b.Kind {
		add(FactorSameKind, 15)
	}
	if a.Author != "" && a.Author == b.Author {
		add(FactorSameAuthor, 10)
	}

	s.scoreMeta(a, b, add)

	if slices.Contains(a.ManualLinks, b.ID) || slices.Contains(b.ManualLinks, a.ID) {
		add(FactorManualRelation, 30)
	}

	add(FactorDateProximity, dateProximity(a.PublishedAt, b.PublishedAt))

	if n := commonEntities(a.Title+" "+a.Excerpt, b.Title+" "+b.Excerpt); n > 0 {
		add(FactorNamedEntities, min(60, 30*min(2, 0.5*float64(n))))
	}

	if err := s.scoreTaxonomies(ctx, a, b, add); err != nil {
		return Result{}, err
	}

	var sum float64
	for _, v := range f {
		sum += v
	}
	score := int(math.Round(sum))
	return Result{Score: score, Strength: StrengthOf(score), Factors: f}, nil
}

// scoreMeta adds the kind-specific metadata factors and the direct link
// between a project and one of its illustrations. Values that cannot be
// read count as unknown and contribute nothing.
func (s *Scorer) scoreMeta(a, b *store.Item, add func(string, float64)) {
	switch {
	case a.Kind == store.KindProject && b.Kind == store.KindProject:
		pa, pb := decodePair[store.ProjectAttributes](a, b)
		if pa.Location != "" && pb.Location != "" {
			if sim := s.memo.Similarity(pa.Location, pb.Location); sim > 0.5 {
				add(FactorLocation, math.Round(25*sim))
			}
		}
		if pa.Client != "" && strings.EqualFold(pa.Client, pb.Client) {
			add(FactorClient, 30)
		}
		if r := ratio(pa.Cost, pb.Cost); r > 0.5 {
			add(FactorCost, math.Round(15*r))
		}
		if r := ratio(pa.Surface, pb.Surface); r > 0.6 {
			add(FactorSurface, 10)
		}

	case a.Kind == store.KindIllustration && b.Kind == store.KindIllustration:
		ia, ib := decodePair[store.IllustrationAttributes](a, b)
		if ia.Technique != "" && ib.Technique != "" {
			if sim := s.memo.Similarity(ia.Technique, ib.Technique); sim > 0.5 {
				add(FactorTechnique, math.Round(20*sim))
			}
		}
		if sharesSoftware(ia.Software, ib.Software) {
			add(FactorSoftware, 20)
		}

	case a.Kind == store.KindProject && b.Kind == store.KindIllustration,
		a.Kind == store.KindIllustration && b.Kind == store.KindProject:
		project, illustration := a, b
		if a.Kind == store.KindIllustration {
			project, illustration = b, a
		}
		if illustration.Meta().(store.IllustrationAttributes).ProjectLink == project.ID {
			add(FactorDirectLink, 50)
		}
	}
}

func decodePair[T store.Attributes](a, b *store.Item) (T, T) {
	return a.Meta().(T), b.Meta().(T)
}

type taxonomyFactor struct {
	taxonomy string
	factor   string
	points   float64
}

// taxonomyFactors lists, per kind, the custom taxonomies compared between
// two items of that kind.
var taxonomyFactors = map[store.Kind][]taxonomyFactor{
	store.KindProject: {
		{store.TaxProjectType, FactorProjectType, 35},
		{store.TaxProjectStatus, FactorProjectStatus, 17},
	},
	store.KindIllustration: {
		{store.TaxIllustrationType, FactorIllustrationType, 35},
	},
}

// scoreTaxonomies adds the custom taxonomy factors for same-kind pairs.
func (s *Scorer) scoreTaxonomies(ctx context.Context, a, b *store.Item, add func(string, float64)) error {
	if s.taxonomy == nil || a.Kind != b.Kind {
		return nil
	}

	for _, c := range taxonomyFactors[a.Kind] {
		ta, err := s.termsOf(ctx, a.ID, c.taxonomy)
		if err != nil {
			return err
		}
		if len(ta) == 0 {
			continue
		}
		tb, err := s.termsOf(ctx, b.ID, c.taxonomy)
		if err != nil {
			return err
		}
		if sharedTerms(ta, tb) > 0 {
			add(c.factor, c.points)
		}
	}
	return nil
}

func (s *Scorer) termsOf(ctx context.Context, itemID int64, taxonomy string) ([]store.Term, error) {
	key := termKey{itemID, taxonomy}

	s.mu.Lock()
	terms, ok := s.terms[key]
	s.mu.Unlock()
	if ok {
		return terms, nil
	}

	terms, err := s.taxonomy.TermsOf(ctx, itemID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("%s terms of item %d: %w", taxonomy, itemID, err)
	}
	s.mu.Lock()
	s.terms[key] = terms
	s.mu.Unlock()
	return terms, nil
}

func sharedTerms(a, b []store.Term) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ids := make(map[int64]bool, len(a))
	for _, t := range a {
		ids[t.ID] = true
	}
	n := 0
	for _, t := range b {
		if ids[t.ID] {
			n++
			delete(ids, t.ID) // count duplicates in b once
		}
	}
	return n
}

// ratio is min/max of two positive amounts, 0 if either is unknown.
func ratio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return min(a, b) / max(a, b)
}

func sharesSoftware(a, b string) bool {
	words := func(s string) []string {
		return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
	}
	seen := make(map[string]bool)
	for _, w := range words(a) {
		if len([]rune(w)) > 2 {
			seen[w] = true
		}
	}
	for _, w := range words(b) {
		if seen[w] {
			return true
		}
	}
	return false
}

func dateProximity(a, b int64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	gap := time.Duration(a-b) * time.Millisecond
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap <= 7*day:
		return 10
	case gap <= 30*day:
		return 5
	case gap <= 90*day:
		return 2.5
	default:
		return 0
	}
}
