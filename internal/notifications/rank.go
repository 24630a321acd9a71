package notifications

import "github.com/jimdaga/docpilot/internal/models"

// ranking orders event types from most to least interesting to a recipient.
var ranking = []string{
	models.EventArticleGenerated,
	models.EventRecommendationsGenerated,
	models.EventSectionsSuggested,
	models.EventAnalysisComplete,
	models.EventPullRequestAnalyzed,
	models.EventCommitAnalyzed,
	models.EventArticleUpdatesSuggested,
}

// Rank returns the priority of an event type; lower is more important.
// Unknown types rank after every known one.
func Rank(eventType string) int {
	for i, t := range ranking {
		if t == eventType {
			return i
		}
	}
	return len(ranking)
}

// Ranked reports whether eventType can headline a digest.
func Ranked(eventType string) bool {
	return Rank(eventType) < len(ranking)
}

var labels = map[string]string{
	models.EventArticleGenerated:         "Articles generated",
	models.EventRecommendationsGenerated: "Recommendations",
	models.EventSectionsSuggested:        "Section suggestions",
	models.EventAnalysisComplete:         "Codebase analysis",
	models.EventPullRequestAnalyzed:      "Pull requests",
	models.EventCommitAnalyzed:           "Commits",
	models.EventArticleUpdatesSuggested:  "Documentation checks",
	models.EventMockupRenderFailed:       "Step images",
}

var ctaLabels = map[string]string{
	models.EventArticleGenerated:         "Read the article",
	models.EventRecommendationsGenerated: "Review recommendations",
	models.EventSectionsSuggested:        "Review sections",
	models.EventAnalysisComplete:         "View analysis",
	models.EventPullRequestAnalyzed:      "View changelog",
	models.EventCommitAnalyzed:           "View changelog",
	models.EventArticleUpdatesSuggested:  "Review suggestions",
}

// Label is the breakdown row title of an event type.
func Label(eventType string) string {
	if l, ok := labels[eventType]; ok {
		return l
	}
	return eventType
}
