// Package category maps heterogeneous source tags and free text onto the
// closed location taxonomy.
package category

import (
	a "github.com/petar-dambovaliev/aho-corasick"

	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

// PlaceTypeKey prefixes Places API types so they can share the tag table with
// collaborative-map tags, e.g. "place_type:museum" = "yes".
const PlaceTypeKey = "place_type:"

type keywordRule struct {
	category types.Category
	matcher  a.AhoCorasick
}

func newKeywordRule(c types.Category, words ...string) keywordRule {
	builder := a.NewAhoCorasickBuilder(a.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            a.LeftMostLongestMatch,
	})
	return keywordRule{category: c, matcher: builder.Build(words)}
}

func (r keywordRule) matches(text string) bool {
	if text == "" {
		return false
	}
	iter := r.matcher.Iter(text)
	return iter.Next() != nil
}

// Keyword rules fire before structured tags so a "Castle Museum" is filed by
// what its name says. Order is significant: first match wins.
var keywordRules = []keywordRule{
	newKeywordRule(types.CategoryStolperstein, "stolperstein", "stolpersteine", "stumbling stone", "stumbling stones"),
	newKeywordRule(types.CategoryPlaques, "plaque", "blue plaque", "gedenktafel", "placa conmemorativa", "lapida"),
	newKeywordRule(types.CategoryBusts, "bust of", "busto", "buste", "buste de", "bust"),
	newKeywordRule(types.CategoryStatues, "statue", "statue of", "estatua", "statua", "standbild", "reiterstandbild"),
	newKeywordRule(types.CategoryMuseums, "museum", "museo", "musee", "museu", "pinacoteca", "kunsthalle"),
	newKeywordRule(types.CategoryRuins, "ruin", "ruins", "ruinas", "ruina", "ruine", "ruinen", "rovine"),
	newKeywordRule(types.CategoryCastles,
		"castle", "castillo", "castello", "castell", "chateau", "schloss", "burg", "festung",
		"fortress", "fortaleza", "fort", "citadel", "ciudadela", "alcazar", "palace", "palacio", "palazzo", "palais"),
	newKeywordRule(types.CategoryReligious,
		"church", "iglesia", "kirche", "eglise", "chiesa", "cathedral", "catedral", "basilica",
		"chapel", "capilla", "kapelle", "monastery", "monasterio", "kloster", "abbey", "abadia",
		"convent", "convento", "mosque", "mezquita", "synagogue", "sinagoga", "temple", "templo", "ermita"),
	newKeywordRule(types.CategoryTowers, "tower", "torre", "turm", "belfry", "campanile", "city gate", "stadttor"),
}

type tagRule struct {
	category types.Category
	match    func(tags map[string]string) bool
}

func tagIn(key string, values ...string) func(map[string]string) bool {
	return func(tags map[string]string) bool {
		v, ok := tags[key]
		if !ok {
			return false
		}
		for _, want := range values {
			if v == want {
				return true
			}
		}
		return false
	}
}

func placeType(names ...string) func(map[string]string) bool {
	return func(tags map[string]string) bool {
		for _, t := range names {
			if _, ok := tags[PlaceTypeKey+t]; ok {
				return true
			}
		}
		return false
	}
}

func anyOf(preds ...func(map[string]string) bool) func(map[string]string) bool {
	return func(tags map[string]string) bool {
		for _, p := range preds {
			if p(tags) {
				return true
			}
		}
		return false
	}
}

func hasKey(key string) func(map[string]string) bool {
	return func(tags map[string]string) bool {
		v, ok := tags[key]
		return ok && v != "" && v != "no"
	}
}

var tagRules = []tagRule{
	{types.CategoryStolperstein, tagIn("memorial:type", "stolperstein")},
	{types.CategoryPlaques, anyOf(tagIn("memorial:type", "plaque", "blue_plaque"), tagIn("historic", "plaque"), tagIn("memorial", "plaque"))},
	{types.CategoryBusts, anyOf(tagIn("memorial:type", "bust"), tagIn("memorial", "bust"), tagIn("artwork_type", "bust"))},
	{types.CategoryStatues, anyOf(tagIn("memorial:type", "statue"), tagIn("memorial", "statue"), tagIn("artwork_type", "statue", "sculpture"), tagIn("historic", "statue"))},
	{types.CategoryRuins, anyOf(tagIn("historic", "ruins"), tagIn("ruins", "yes"))},
	{types.CategoryMuseums, anyOf(tagIn("tourism", "museum", "gallery"), placeType("museum", "art_gallery"))},
	{types.CategoryCastles, anyOf(tagIn("historic", "castle", "fortress", "citywalls", "manor", "palace", "fort"), placeType("castle", "palace"))},
	{types.CategoryReligious, anyOf(
		tagIn("amenity", "place_of_worship", "monastery"),
		tagIn("historic", "church", "monastery", "wayside_shrine", "wayside_cross", "chapel"),
		tagIn("building", "cathedral", "church", "chapel", "mosque", "synagogue", "temple"),
		placeType("church", "mosque", "synagogue", "hindu_temple", "place_of_worship"),
	)},
	{types.CategoryTowers, anyOf(tagIn("historic", "tower", "city_gate"), tagIn("building", "tower"), tagIn("man_made", "tower"))},
	{types.CategoryHistoricSite, anyOf(
		tagIn("historic", "building", "archaeological_site", "monument", "memorial", "heritage", "battlefield", "milestone"),
		placeType("historical_landmark", "historical_place", "monument", "cultural_landmark"),
		hasKey("historic"),
		hasKey("heritage"),
	)},
}

var touristRule = anyOf(
	tagIn("tourism", "attraction", "viewpoint", "artwork"),
	placeType("tourist_attraction", "point_of_interest"),
)

// Classify returns exactly one category for the given tags and text. It never
// fails: unmatched input falls into CategoryOthers.
func Classify(tags map[string]string, name, description string) types.Category {
	folded := []string{textnorm.Fold(name), textnorm.Fold(description)}
	for _, text := range folded {
		for _, r := range keywordRules {
			if r.matches(text) {
				return r.category
			}
		}
	}

	for _, r := range tagRules {
		if r.match(tags) {
			return r.category
		}
	}

	if touristRule(tags) {
		return types.CategoryTourist
	}

	return types.CategoryOthers
}
