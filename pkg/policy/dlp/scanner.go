package dlp

import (
	"cmp"
	"context"
	"slices"
)

// Scan runs every rule over text. A match of a block rule marks the report
// blocked, a redact rule rewrites Redacted and an allow rule is only recorded.
// Matches are always reported against the original text.
func (s *Scanner) Scan(ctx context.Context, text string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Redacted: text}
	for _, rule := range s.rules {
		locs := rule.expr.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}

		for _, loc := range locs {
			report.Findings = append(report.Findings, Finding{
				Rule:   rule.name,
				Match:  text[loc[0]:loc[1]],
				Start:  loc[0],
				End:    loc[1],
				Action: rule.action,
			})
		}

		switch rule.action {
		case ActionBlock:
			report.Blocked = true
		case ActionRedact:
			report.Redacted = rule.expr.ReplaceAllLiteralString(report.Redacted, rule.replacement)
		}
	}

	slices.SortStableFunc(report.Findings, func(a, b Finding) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End))
	})
	report.RedactionsApplied = report.Redacted != text

	return report, nil
}
