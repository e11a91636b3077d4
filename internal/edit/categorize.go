package edit

import (
	"strings"

	"tasvid/internal/models"
)

// CategoryOther is used when no keyword matches
const CategoryOther = "other"

var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"music", []string{"music", "song", "audio", "concert", "band", "singer", "album"}},
	{"gaming", []string{"game", "gaming", "gameplay", "playthrough", "walkthrough", "xbox", "playstation", "nintendo"}},
	{"education", []string{"education", "tutorial", "learn", "course", "lecture", "how to", "guide"}},
	{"entertainment", []string{"entertainment", "funny", "comedy", "prank", "challenge", "vlog"}},
	{"news", []string{"news", "report", "politics", "current events", "breaking"}},
	{"sports", []string{"sports", "football", "soccer", "basketball", "baseball", "nfl", "nba", "mlb"}},
	{"technology", []string{"tech", "technology", "review", "unboxing", "smartphone", "computer"}},
	{"travel", []string{"travel", "vlog", "tour", "trip", "vacation", "destination"}},
}

// Categorize scores keyword hits in the title (x3), tags (x2) and
// description (x1). Ties go to the category listed first.
func Categorize(info *models.ProbeResult) string {
	if info == nil {
		return CategoryOther
	}

	title := strings.ToLower(info.Title)
	description := strings.ToLower(info.Description)
	tags := make([]string, len(info.Tags))
	for i, t := range info.Tags {
		tags[i] = strings.ToLower(t)
	}

	best, bestScore := CategoryOther, 0
	for _, c := range categoryKeywords {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(title, kw) {
				score += 3
			}
			for _, tag := range tags {
				if strings.Contains(tag, kw) {
					score += 2
				}
			}
			if strings.Contains(description, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c.name, score
		}
	}
	return best
}
