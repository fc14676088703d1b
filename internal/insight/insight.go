// Package insight derives recommendations from aggregated rank state.
package insight

import (
	"fmt"
	"strings"

	"github.com/seolytics/ranktrack/internal/model"
)

const (
	// positiveTrendRatio is the improved share above which the corpus trend
	// reads as positive; decliningTrendRatio the share below which it reads
	// as declining.
	positiveTrendRatio  = 0.6
	decliningTrendRatio = 0.4

	// stableOpportunityMin is the stable-keyword count that suggests an
	// optimization push.
	stableOpportunityMin = 10
)

// Generate evaluates the rule table over a report in fixed priority order.
// Each rule independently emits at most one insight; the result is
// deterministic and side-effect-free.
func Generate(report model.Report) []model.Insight {
	var out []model.Insight

	cats := report.PerformanceCategories
	sum := report.Summary

	if cats.TopPerformers > 0 {
		desc := fmt.Sprintf("%d keyword(s) improved into the top 30.", cats.TopPerformers)
		if len(report.TopPerformerSamples) > 0 {
			desc = fmt.Sprintf("%d keyword(s) improved into the top 30, including %s.",
				cats.TopPerformers, strings.Join(report.TopPerformerSamples, ", "))
		}
		out = append(out, model.Insight{
			Type:        model.InsightSuccess,
			Title:       "Keywords climbing into top positions",
			Description: desc,
			Actionable:  false,
		})
	}

	if cats.NeedAttention > 0 {
		out = append(out, model.Insight{
			Type:        model.InsightWarning,
			Title:       "Keywords need attention",
			Description: fmt.Sprintf("%d keyword(s) are declining or ranked beyond position 50. Review content and backlinks for these terms.", cats.NeedAttention),
			Actionable:  true,
		})
	}

	if cats.LostVisibility > 0 {
		out = append(out, model.Insight{
			Type:        model.InsightDanger,
			Title:       "Keywords lost visibility",
			Description: fmt.Sprintf("%d keyword(s) dropped out of the tracked range. Investigate ranking losses before competitors consolidate.", cats.LostVisibility),
			Actionable:  true,
		})
	}

	// Ratio rules are guarded: with no movement either way they stay silent.
	if moved := sum.Improved + sum.Declined; moved > 0 {
		ratio := float64(sum.Improved) / float64(moved)
		if ratio > positiveTrendRatio {
			out = append(out, model.Insight{
				Type:        model.InsightSuccess,
				Title:       "Positive overall trend",
				Description: fmt.Sprintf("%d of %d moving keywords improved this period. Current strategy is working.", sum.Improved, moved),
				Actionable:  false,
			})
		} else if ratio < decliningTrendRatio {
			out = append(out, model.Insight{
				Type:        model.InsightWarning,
				Title:       "Declining overall trend",
				Description: fmt.Sprintf("Only %d of %d moving keywords improved this period. Consider revisiting the content strategy.", sum.Improved, moved),
				Actionable:  true,
			})
		}
	}

	if cats.Stable > stableOpportunityMin {
		out = append(out, model.Insight{
			Type:        model.InsightInfo,
			Title:       "Optimization opportunity",
			Description: fmt.Sprintf("%d keyword(s) are holding steady. Targeted optimization could turn them into gains.", cats.Stable),
			Actionable:  true,
		})
	}

	if sum.New > 0 {
		out = append(out, model.Insight{
			Type:        model.InsightInfo,
			Title:       "New keywords tracked",
			Description: fmt.Sprintf("%d keyword(s) entered the tracked range this period.", sum.New),
			Actionable:  false,
		})
	}

	return out
}
