package commentary

import (
	"fmt"
	"strings"

	"github.com/fabfab/fundlens/models"
)

const basePrompt = `You are an expert financial writer specializing in asset management communications.
Your task is to write professional fund commentary based STRICTLY on the provided data from the annual report.

CRITICAL RULES - YOU MUST FOLLOW THESE:
1. ONLY use information that is explicitly present in the provided data
2. DO NOT invent or assume any company names, percentages, or events not in the data
3. DO NOT make up news events, stock price movements, or corporate actions
4. If specific details like contribution percentages are not provided, do not invent them
5. Use exact figures from the tables when available
6. If data is insufficient, acknowledge limitations rather than fabricating details
7. Every company name, every percentage, every fact MUST come from the provided document data

Key principles:
- Be factual and precise with numbers FROM THE DOCUMENT
- Provide context for performance figures USING DOCUMENT DATA
- Explain investment decisions based on WHAT THE DOCUMENT SHOWS
- Maintain consistent tone throughout
- Quote specific data points from tables when relevant`

var typeFragments = map[models.CommentType]string{
	models.CommentAssetManager: `You are writing an Asset Manager Comment for a fund's official report. This should:
- Open with a brief market context
- Discuss fund performance vs benchmark
- Highlight key holdings and their contributions
- Explain any significant portfolio changes
- Provide a brief outlook`,
	models.CommentPerformance: `You are writing a Performance Summary. This should:
- Focus primarily on quantitative performance data
- Compare fund returns to benchmark clearly
- Break down attribution by sector or holdings
- Be concise and data-driven`,
	models.CommentRisk: `You are writing a Risk Analysis. This should:
- Discuss risk metrics and volatility
- Analyze drawdowns and recovery
- Compare risk-adjusted returns
- Highlight portfolio concentration risks`,
	models.CommentSustainability: `You are writing a Sustainability/ESG Report. This should:
- Focus on ESG metrics and scores
- Discuss sustainability initiatives
- Highlight green investments
- Report on carbon footprint if available`,
	models.CommentNewsletter: `You are writing a Newsletter Excerpt for retail investors. This should:
- Use accessible, jargon-free language
- Tell a compelling story about the fund
- Be engaging and easy to read
- Highlight key takeaways simply`,
	models.CommentCustom: `You are writing a custom financial commentary. Follow the specific instructions provided carefully.`,
}

var toneFragments = map[models.Tone]string{
	models.ToneFormal:         "Use formal, professional language appropriate for institutional investors.",
	models.ToneConversational: "Use a friendly, conversational tone while maintaining professionalism.",
	models.ToneTechnical:      "Use technical financial terminology appropriate for sophisticated investors.",
}

var lengthFragments = map[models.Length]string{
	models.LengthBrief:    "Keep the response concise, around 100 words.",
	models.LengthMedium:   "Write a moderate-length response, around 200 words.",
	models.LengthDetailed: "Write a comprehensive response, around 400 words with detailed analysis.",
}

// SystemPrompt combines the grounding rules with the fragments selected by
// the style parameters. Unknown values fall back to the defaults.
func SystemPrompt(params models.CommentParameters) string {
	typ, ok := typeFragments[params.CommentType]
	if !ok {
		typ = typeFragments[models.CommentCustom]
	}
	tone, ok := toneFragments[params.Tone]
	if !ok {
		tone = toneFragments[models.ToneFormal]
	}
	length, ok := lengthFragments[params.Length]
	if !ok {
		length = lengthFragments[models.LengthMedium]
	}
	return fmt.Sprintf("%s\n\n%s\n\nTone: %s\nLength: %s\n", basePrompt, typ, tone, length)
}

// UserPrompt wraps the data context with the analyst's instructions.
func UserPrompt(params models.CommentParameters, dataContext string) string {
	parts := []string{
		"Based on the following fund data, please write the requested commentary.",
		"",
		"=== FUND DATA ===",
		dataContext,
		"",
		"=== END DATA ===",
	}
	if params.CustomInstructions != "" {
		parts = append(parts, "", "Additional Instructions:", params.CustomInstructions)
	}

	switch {
	case params.IncludePositiveContributors && params.IncludeNegativeContributors:
		parts = append(parts, "\nPlease discuss both positive and negative contributors to performance.")
	case params.IncludePositiveContributors:
		parts = append(parts, "\nFocus primarily on positive contributors to performance.")
	case params.IncludeNegativeContributors:
		parts = append(parts, "\nDiscuss the negative contributors to performance.")
	}

	parts = append(parts, "\nPlease generate the commentary now:")
	return strings.Join(parts, "\n")
}
