package models

// JobKind names one analysis, generation or render operation.
type JobKind string

const (
	JobCodebaseAnalysis       JobKind = "codebase_analysis"
	JobPullRequestAnalysis    JobKind = "pull_request_analysis"
	JobCommitAnalysis         JobKind = "commit_analysis"
	JobProjectRecommendations JobKind = "project_recommendations"
	JobSectionRecommendations JobKind = "section_recommendations"
	JobSectionSuggestions     JobKind = "section_suggestions"
	JobArticleGeneration      JobKind = "article_generation"
	JobArticleUpdateCheck     JobKind = "article_update_check"
	JobMockupRender           JobKind = "mockup_render"
)

// JobKinds lists every kind in a stable order.
var JobKinds = []JobKind{
	JobCodebaseAnalysis,
	JobPullRequestAnalysis,
	JobCommitAnalysis,
	JobProjectRecommendations,
	JobSectionRecommendations,
	JobSectionSuggestions,
	JobArticleGeneration,
	JobArticleUpdateCheck,
	JobMockupRender,
}

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	for _, known := range JobKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Review status for human-reviewed suggestions (sections, recommendations)
const (
	ReviewPending  = "pending"
	ReviewAccepted = "accepted"
	ReviewRejected = "rejected"
)
