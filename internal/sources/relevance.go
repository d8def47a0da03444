package sources

import (
	"strings"
	"unicode/utf8"

	a "github.com/petar-dambovaliev/aho-corasick"

	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
)

const minContextLength = 40

func wordMatcher(words ...string) a.AhoCorasick {
	builder := a.NewAhoCorasickBuilder(a.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            a.LeftMostLongestMatch,
	})
	return builder.Build(words)
}

func phraseMatcher(phrases ...string) a.AhoCorasick {
	builder := a.NewAhoCorasickBuilder(a.Opts{
		AsciiCaseInsensitive: true,
		MatchKind:            a.LeftMostLongestMatch,
	})
	return builder.Build(phrases)
}

func hits(m a.AhoCorasick, s string) bool {
	if s == "" {
		return false
	}
	iter := m.Iter(s)
	return iter.Next() != nil
}

var (
	invalidContextMatcher = wordMatcher(
		"clothing", "underwear", "medical", "anatomy", "diagram", "map of", "plan of",
		"furniture", "poster", "advertisement", "logo", "icon",
		"coat of arms", "signature", "document", "pdf", "book cover",
		"panties", "boxer", "shorts", "swimwear", "microscope",
		"insect", "animal", "plant", "flower", "fungi", "textile",
	)

	transitNameMatcher = phraseMatcher(
		"subte", "estacion", "station", "parada", "terminal", "bahnhof", "haltestelle",
	)

	transportMatcher = phraseMatcher(
		"estacion linea", "station on line", "metro station", "subway station",
		"train station", "railway station", "bus stop",
	)

	invalidImageMatcher = wordMatcher(
		"svg", "logo", "icon", "map", "diagram", "chart", "plan", "drawing", "sketch",
		"textile", "clothing", "shirt", "fabric", "underwear", "garment", "hat",
		"food", "dish", "plate", "menu", "bottle",
		"interior", "room", "furniture", "chair", "table", "shelf",
		"book", "paper", "document", "scan", "page", "postcard", "album", "photo album",
		"collection", "archive", "ephemera", "pile", "stack", "box", "letters",
		"signature", "stamp", "currency", "coin", "portrait", "headshot",
	)

	imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

	// Structural keywords a specific landmark name carries that its host
	// village's article would not.
	structuralKeywords = []string{"museum", "museo", "castle", "schloss", "burg", "festung", "church", "kirche", "ruin"}
)

// NamesSimilar reports whether two names plausibly refer to the same entity:
// folded substring containment either way, or a shared word of four or more letters.
func NamesSimilar(x, y string) bool {
	fx, fy := textnorm.Fold(x), textnorm.Fold(y)
	if fx == "" || fy == "" {
		return false
	}
	if strings.Contains(fx, fy) || strings.Contains(fy, fx) {
		return true
	}

	words := make(map[string]struct{})
	for _, w := range textnorm.Words(y) {
		words[w] = struct{}{}
	}
	for _, w := range textnorm.Words(x) {
		if utf8.RuneCountInString(w) < 4 {
			continue
		}
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

// InvalidContext rejects article text that is too short to be useful or that
// talks about objects rather than places.
func InvalidContext(text string) bool {
	folded := textnorm.Fold(text)
	if utf8.RuneCountInString(folded) < minContextLength {
		return true
	}
	return hits(invalidContextMatcher, folded)
}

// BannedTopic reports text about objects rather than places, regardless of length.
func BannedTopic(text string) bool {
	return hits(invalidContextMatcher, textnorm.Fold(text))
}

// TransportContext reports articles about transit stops rather than landmarks.
func TransportContext(text string) bool {
	return hits(transportMatcher, textnorm.Fold(text))
}

// TransportName reports names of stops and stations.
func TransportName(name string) bool {
	return hits(transitNameMatcher, textnorm.Fold(name))
}

// InvalidImage rejects media whose URL or title suggests it is not a photo of a place.
func InvalidImage(url, title string) bool {
	if url == "" {
		return true
	}
	return hits(invalidImageMatcher, mediaWords(url)) || hits(invalidImageMatcher, mediaWords(title))
}

// AllowedImageExtension checks the whitelist of raster formats.
func AllowedImageExtension(url string) bool {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// RelevantTitle applies the keyword cognate check used for position based
// matches: a structural keyword in the name must also appear in the title.
func RelevantTitle(name, title string) bool {
	n, t := textnorm.Fold(name), textnorm.Fold(title)
	if n == "" || t == "" {
		return false
	}
	for _, kw := range structuralKeywords {
		if strings.Contains(n, kw) && !strings.Contains(t, kw) {
			return false
		}
	}
	return true
}

// mediaWords turns file names and URLs into space separated words so that
// whole word matching sees "Castle_plan.svg" as "castle plan svg".
func mediaWords(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', '/', ':', '%', '(', ')', ',', '=', '?', '&':
			return ' '
		}
		return r
	}, textnorm.Fold(s))
}
