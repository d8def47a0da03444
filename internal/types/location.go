package types

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryAll          Category = "All"
	CategoryCastles      Category = "Castles"
	CategoryRuins        Category = "Ruins"
	CategoryMuseums      Category = "Museums"
	CategoryReligious    Category = "Religious"
	CategoryTowers       Category = "Towers"
	CategoryStatues      Category = "Statues"
	CategoryBusts        Category = "Busts"
	CategoryPlaques      Category = "Plaques"
	CategoryStolperstein Category = "Stolperstein"
	CategoryHistoricSite Category = "Historic Site"
	CategoryTourist      Category = "Tourist"
	CategoryOthers       Category = "Others"
)

// Categories is the closed taxonomy every stored location belongs to.
var Categories = []Category{
	CategoryCastles,
	CategoryRuins,
	CategoryMuseums,
	CategoryReligious,
	CategoryTowers,
	CategoryStatues,
	CategoryBusts,
	CategoryPlaques,
	CategoryStolperstein,
	CategoryHistoricSite,
	CategoryTourist,
	CategoryOthers,
}

// ParseCategory resolves a client supplied category case-insensitively.
// Empty input and "all" resolve to CategoryAll.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(CategoryAll)) {
		return CategoryAll, true
	}
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Valid reports whether c is part of the stored taxonomy.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceUser        Source = "user"
	SourceExploration Source = "exploration"
	SourcePlaces      Source = "places"
)

// Location is a point of interest as persisted in historical_locations or
// as freshly fetched from an external provider (ID == 0).
type Location struct {
	ID          int64     `json:"id,omitempty"`
	ExternalID  string    `json:"google_place_id,omitempty"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Description string    `json:"description,omitempty"`
	Address     string    `json:"address,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Distance    *float64  `json:"distance_meters,omitempty"`
	Images      []string  `json:"images"`
	ImageURL    string    `json:"image_url,omitempty"`
	Author      string    `json:"author,omitempty"`
	License     string    `json:"license,omitempty"`
	WikiTitle   string    `json:"wiki_title,omitempty"`
	Source      Source    `json:"source,omitempty"`
	Approved    bool      `json:"is_approved"`
	CreatedBy   *int64    `json:"created_by_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Stored reports whether the record has store identity.
func (l Location) Stored() bool {
	return l.ID > 0
}

// HasMedia reports whether enrichment already produced at least one image.
func (l Location) HasMedia() bool {
	return len(l.Images) > 0 || l.ImageURL != ""
}

// ValidPosition reports whether lat/lon form a WGS84 pair.
func ValidPosition(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

type Anchor struct {
	Latitude  float64
	Longitude float64
}

type SearchQuery struct {
	Term     string
	Category Category
	Anchor   *Anchor
	Page     int
	Limit    int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Normalize applies pagination defaults and clamps.
func (q *SearchQuery) Normalize() {
	q.Term = strings.TrimSpace(q.Term)
	if q.Category == "" {
		q.Category = CategoryAll
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
}

func (q SearchQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Visibility selects which approval state a store read returns.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityPending
)

// LocationFilter is the store-level query built from a SearchQuery.
type LocationFilter struct {
	Terms        []string
	Category     Category
	Anchor       *Anchor
	RadiusMeters float64
	Visibility   Visibility
	Limit        int
	Offset       int
}

type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

func (b BoundingBox) Valid() bool {
	return b.South < b.North && b.West < b.East &&
		ValidPosition(b.South, b.West) && ValidPosition(b.North, b.East)
}

func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

type ExplorationArea struct {
	Box   BoundingBox
	Label string
}

// MediaUpdate carries the enrichment-owned fields of a location.
type MediaUpdate struct {
	Images      []string
	ImageURL    string
	Description string
	Author      string
	License     string
	WikiTitle   string
}

type SuggestLocationRequest struct {
	Name          string   `json:"name" validate:"required,max=255"`
	Description   string   `json:"description" validate:"max=4000"`
	Latitude      *float64 `json:"latitude" validate:"required,latitude"`
	Longitude     *float64 `json:"longitude" validate:"required,longitude"`
	ImageURL      string   `json:"image_url" validate:"omitempty,url"`
	UserID        *int64   `json:"user_id"`
	GooglePlaceID string   `json:"google_place_id" validate:"max=255"`
}

type LocationPage struct {
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Data  []Location `json:"data"`
}

type WikiDetails struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	Image   string `json:"image,omitempty"`
}

// EnrichmentJob identifies a record whose media should be backfilled.
type EnrichmentJob struct {
	ID        int64
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
}

func (l Location) EnrichmentJob() EnrichmentJob {
	return EnrichmentJob{ID: l.ID, Name: l.Name, Address: l.Address, Latitude: l.Latitude, Longitude: l.Longitude}
}
