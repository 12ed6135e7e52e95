package catalog

import "time"

// MergePosting folds a run's candidate state into the stored posting.
// Identity fields, FirstSeenAt, EmailedAt and CreatedAt are preserved from
// the stored row; structured fields prefer non-empty candidate values;
// liveness and enrichment fields are taken from the candidate, which
// carries this run's verification and enrichment decisions.
func MergePosting(existing, incoming Posting, now time.Time) Posting {
	merged := existing

	merged.OriginalURL = pickString(incoming.OriginalURL, existing.OriginalURL)
	merged.Title = pickString(incoming.Title, existing.Title)
	merged.Institution = pickString(incoming.Institution, existing.Institution)
	merged.Department = pickString(incoming.Department, existing.Department)
	merged.City = pickString(incoming.City, existing.City)
	merged.Country = pickString(incoming.Country, existing.Country)
	merged.Language = pickString(incoming.Language, existing.Language)
	merged.ContractType = pickString(incoming.ContractType, existing.ContractType)
	merged.Currency = pickString(incoming.Currency, existing.Currency)
	merged.ClosingDate = pickString(incoming.ClosingDate, existing.ClosingDate)
	merged.InterviewDate = pickString(incoming.InterviewDate, existing.InterviewDate)
	merged.RelevanceRationale = pickString(incoming.RelevanceRationale, existing.RelevanceRationale)
	merged.Synopsis = pickString(incoming.Synopsis, existing.Synopsis)

	merged.FTE = pickFloat(incoming.FTE, existing.FTE)
	merged.SalaryMin = pickFloat(incoming.SalaryMin, existing.SalaryMin)
	merged.SalaryMax = pickFloat(incoming.SalaryMax, existing.SalaryMax)
	merged.RelevanceScore = pickFloat(incoming.RelevanceScore, existing.RelevanceScore)

	if len(incoming.TopicTags) > 0 {
		merged.TopicTags = incoming.TopicTags
	}
	if incoming.RankBucket != "" {
		merged.RankBucket = incoming.RankBucket
		merged.RankSource = incoming.RankSource
	}
	if incoming.RelevanceScore != nil {
		merged.SeniorityMatch = incoming.SeniorityMatch
	} else {
		merged.SeniorityMatch = existing.SeniorityMatch || incoming.SeniorityMatch
	}

	if incoming.OpenStatus != "" {
		merged.OpenStatus = incoming.OpenStatus
		merged.VerifyFailures = incoming.VerifyFailures
	}
	if incoming.LastSeenAt.After(existing.LastSeenAt) {
		merged.LastSeenAt = incoming.LastSeenAt
	}
	merged.UpdatedAt = now

	return merged
}

func pickString(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

func pickFloat(incoming, existing *float64) *float64 {
	if incoming != nil {
		return incoming
	}
	return existing
}
