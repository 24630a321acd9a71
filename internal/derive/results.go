package derive

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
)

// ErrMalformedResult means the tool output could not be interpreted.
var ErrMalformedResult = errors.New("malformed tool result")

// RecommendationResult is one proposed article.
type RecommendationResult struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Justification string `json:"justification"`
	ArticleType   string `json:"article_type"`
}

// ChangeResult is the output of pull request and commit analysis.
type ChangeResult struct {
	Title                   string                 `json:"title"`
	Content                 string                 `json:"content"`
	Recommendations         []RecommendationResult `json:"recommendations"`
	NoRecommendationsReason string                 `json:"no_recommendations_reason"`
}

// RecommendationsResult is the output of project and section recommendation runs.
type RecommendationsResult struct {
	Recommendations         []RecommendationResult `json:"recommendations"`
	NoRecommendationsReason string                 `json:"no_recommendations_reason"`
}

// SectionsResult is the output of section suggestion runs.
type SectionsResult struct {
	Sections []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"sections"`
}

// ArticleResult is the output of article generation.
type ArticleResult struct {
	Title           string               `json:"title"`
	Content         string               `json:"content"`
	Steps           []models.ArticleStep `json:"steps"`
	SourceCommitSHA string               `json:"source_commit_sha"`
}

// SuggestionResult is one proposed documentation change.
type SuggestionResult struct {
	ArticleID        *uint    `json:"article_id"`
	SuggestionType   string   `json:"suggestion_type"`
	Priority         string   `json:"priority"`
	AffectedFiles    []string `json:"affected_files"`
	SuggestedChanges string   `json:"suggested_changes"`
	Reason           string   `json:"reason"`
}

// UpdateCheckResult is the output of an article staleness check.
type UpdateCheckResult struct {
	Summary     string             `json:"summary"`
	Suggestions []SuggestionResult `json:"suggestions"`
}

// AnalysisResult is the output of codebase analysis.
type AnalysisResult struct {
	Summary   string                 `json:"summary"`
	Metadata  map[string]interface{} `json:"metadata"`
	CommitSHA string                 `json:"commit_sha"`
}

// RenderResult is the output of a mockup render.
type RenderResult struct {
	ImagePath string `json:"image_path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func decode(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty result", ErrMalformedResult)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return nil
}
