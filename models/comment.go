package models

import "fmt"

type CommentType string

const (
	CommentAssetManager   CommentType = "asset_manager_comment"
	CommentPerformance    CommentType = "performance_summary"
	CommentRisk           CommentType = "risk_analysis"
	CommentSustainability CommentType = "sustainability_report"
	CommentNewsletter     CommentType = "newsletter_excerpt"
	CommentCustom         CommentType = "custom"
)

type Tone string

const (
	ToneFormal         Tone = "formal"
	ToneConversational Tone = "conversational"
	ToneTechnical      Tone = "technical"
)

type Length string

const (
	LengthBrief    Length = "brief"
	LengthMedium   Length = "medium"
	LengthDetailed Length = "detailed"
)

// CommentParameters are the style and content knobs chosen by the analyst.
type CommentParameters struct {
	CommentType                 CommentType `json:"comment_type" validate:"omitempty,oneof=asset_manager_comment performance_summary risk_analysis sustainability_report newsletter_excerpt custom"`
	TimePeriod                  string      `json:"time_period,omitempty"`
	CompareBenchmark            bool        `json:"compare_benchmark"`
	TopNHoldings                int         `json:"top_n_holdings" validate:"gte=0,lte=50"`
	IncludePositiveContributors bool        `json:"include_positive_contributors"`
	IncludeNegativeContributors bool        `json:"include_negative_contributors"`
	IncludeSectorImpact         bool        `json:"include_sector_impact"`
	Tone                        Tone        `json:"tone" validate:"omitempty,oneof=formal conversational technical"`
	Length                      Length      `json:"length" validate:"omitempty,oneof=brief medium detailed"`
	CustomInstructions          string      `json:"custom_instructions,omitempty"`
}

// DefaultCommentParameters mirrors what an analyst gets without touching
// any option.
func DefaultCommentParameters() CommentParameters {
	return CommentParameters{
		CommentType:                 CommentAssetManager,
		CompareBenchmark:            true,
		TopNHoldings:                5,
		IncludePositiveContributors: true,
		IncludeNegativeContributors: true,
		IncludeSectorImpact:         true,
		Tone:                        ToneFormal,
		Length:                      LengthMedium,
	}
}

// Normalize fills empty style fields with their defaults.
func (p CommentParameters) Normalize() CommentParameters {
	if p.CommentType == "" {
		p.CommentType = CommentAssetManager
	}
	if p.Tone == "" {
		p.Tone = ToneFormal
	}
	if p.Length == "" {
		p.Length = LengthMedium
	}
	if p.TopNHoldings < 0 {
		p.TopNHoldings = 0
	}
	return p
}

func (p CommentParameters) String() string {
	return fmt.Sprintf("%s/%s/%s", p.CommentType, p.Tone, p.Length)
}
