package model

import "strings"

// Category classifies events for browsing. The set is closed at runtime
// but grows by adding to knownCategories.
type Category string

const (
	CategoryConference Category = "conference"
	CategoryWorkshop   Category = "workshop"
	CategorySeminar    Category = "seminar"
	CategoryParty      Category = "party"
	CategoryNetworking Category = "networking"
	CategoryConcert    Category = "concert"
	CategorySports     Category = "sports"
	CategoryExhibition Category = "exhibition"
	CategoryWebinar    Category = "webinar"
	CategoryCharity    Category = "charity"
	CategoryOther      Category = "other"
)

var knownCategories = []Category{
	CategoryConference,
	CategoryWorkshop,
	CategorySeminar,
	CategoryParty,
	CategoryNetworking,
	CategoryConcert,
	CategorySports,
	CategoryExhibition,
	CategoryWebinar,
	CategoryCharity,
	CategoryOther,
}

// Categories returns a copy of the known categories in display order.
func Categories() []Category {
	out := make([]Category, len(knownCategories))
	copy(out, knownCategories)
	return out
}

// ParseCategory normalizes s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range knownCategories {
		if k == c {
			return c, true
		}
	}
	return "", false
}
