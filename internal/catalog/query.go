package catalog

import (
	"slices"
	"strings"
)

// AllTags is the tag filter value that disables tag filtering.
const AllTags = "All"

// Sort keys accepted by Query. Any other value keeps catalog order.
const (
	SortFeatured = "featured"
	SortPopular  = "popular"
)

// Params narrows and orders a Query.
type Params struct {
	Search string
	Tag    string
	Sort   string
}

// Query filters bots by case-insensitive substring search over name, short
// and description, then by tag, then orders them by p.Sort. Sorting is
// stable. The input slice is never modified.
func Query(bots []Bot, p Params) []Bot {
	out := make([]Bot, 0, len(bots))
	needle := strings.ToLower(p.Search)
	for _, b := range bots {
		if needle != "" && !matchesText(b, needle) {
			continue
		}
		if p.Tag != "" && p.Tag != AllTags && !b.HasTag(p.Tag) {
			continue
		}
		out = append(out, b)
	}

	switch p.Sort {
	case SortFeatured:
		slices.SortStableFunc(out, func(a, z Bot) int {
			return boolRank(z.Featured) - boolRank(a.Featured)
		})
	case SortPopular:
		slices.SortStableFunc(out, func(a, z Bot) int {
			switch {
			case a.Guilds > z.Guilds:
				return -1
			case a.Guilds < z.Guilds:
				return 1
			}
			return 0
		})
	}
	return out
}

func matchesText(b Bot, needle string) bool {
	return strings.Contains(strings.ToLower(b.Name), needle) ||
		strings.Contains(strings.ToLower(b.Short), needle) ||
		strings.Contains(strings.ToLower(b.Description), needle)
}

func boolRank(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Tags returns AllTags followed by every distinct tag in the catalog, in
// order of first appearance.
func Tags(bots []Bot) []string {
	seen := map[string]struct{}{AllTags: {}}
	tags := []string{AllTags}
	for _, b := range bots {
		for _, t := range b.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags
}

// Find returns the bot with id.
func Find(bots []Bot, id string) (Bot, bool) {
	for _, b := range bots {
		if b.ID == id {
			return b, true
		}
	}
	return Bot{}, false
}
