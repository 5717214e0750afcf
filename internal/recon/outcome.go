package recon

import (
	"fmt"
	"time"
)

// Status ladder thresholds, evaluated top-down.
const (
	partialMatchRate     = 0.95
	partialMatchMaxOpen  = 2
	majorDiscrepancyRate = 0.80
)

// BuildOutcome assembles the per-platform outcome for one run. Residual
// unmatched records on either side become missing-record discrepancies
// alongside whatever the analyzer found in the matched pairs.
func BuildOutcome(platform, date string, mr MatchResult, resolved []ResolvedDiscrepancy, unresolved []Discrepancy, elapsed time.Duration, now time.Time) *Outcome {
	for _, s := range mr.UnmatchedSettlements {
		unresolved = append(unresolved, Discrepancy{
			TransactionID: s.TransactionID,
			Type:          MissingInInternal,
			PlatformData:  map[string]any{"amount": s.Amount.String(), "eventType": string(s.EventType)},
			Description:   fmt.Sprintf("settlement %s has no internal event", s.TransactionID),
			Amount:        s.Amount.Abs(),
		})
	}
	for _, ev := range mr.UnmatchedEvents {
		unresolved = append(unresolved, Discrepancy{
			TransactionID: ev.ID,
			Type:          MissingInPlatform,
			InternalData:  map[string]any{"eventType": string(ev.EventType), "subscriptionId": ev.SubscriptionID},
			Description:   fmt.Sprintf("internal event %s has no settlement", ev.ID),
		})
	}

	var exact, pattern int
	for _, m := range mr.Matches {
		switch m.Type {
		case MatchExactID:
			exact++
		default:
			pattern++
		}
	}

	o := &Outcome{
		Platform:             platform,
		Date:                 date,
		SettlementCount:      len(mr.Matches) + len(mr.UnmatchedSettlements),
		EventCount:           len(mr.Matches) + len(mr.UnmatchedEvents),
		ExactMatches:         exact,
		PatternMatches:       pattern,
		UnmatchedSettlements: len(mr.UnmatchedSettlements),
		UnmatchedEvents:      len(mr.UnmatchedEvents),
		TotalDiscrepancies:   len(resolved) + len(unresolved),
		AutoResolved:         len(resolved),
		Unresolved:           len(unresolved),
		ProcessingTimeMs:     elapsed.Milliseconds(),
		Discrepancies:        unresolved,
		Resolved:             resolved,
		CreatedAt:            now,
	}

	o.MatchingRate = matchingRate(len(mr.Matches), o.SettlementCount, o.EventCount)
	o.AutoResolutionRate = autoResolutionRate(o.AutoResolved, o.TotalDiscrepancies)
	o.Status = classify(o.MatchingRate, o.Unresolved)

	return o
}

// matchingRate is matches over the larger input side, 0 when both are empty.
func matchingRate(matches, settlements, events int) float64 {
	denom := settlements
	if events > denom {
		denom = events
	}
	if denom == 0 {
		return 0
	}
	return float64(matches) / float64(denom)
}

// autoResolutionRate is 1.0 when there was nothing to resolve.
func autoResolutionRate(resolved, total int) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(resolved) / float64(total)
}

// classify applies the status ladder; the first satisfied rung wins.
func classify(rate float64, unresolved int) Status {
	switch {
	case rate >= 1.0 && unresolved == 0:
		return StatusMatched
	case rate >= partialMatchRate && unresolved <= partialMatchMaxOpen:
		return StatusPartialMatch
	case rate >= majorDiscrepancyRate:
		return StatusMajorDiscrepancy
	default:
		return StatusFailed
	}
}

// CombineOutcomes aggregates per-platform outcomes into the date-level view.
// Platforms whose data collection failed appear in errs instead of outcomes.
func CombineOutcomes(date string, outcomes map[string]*Outcome, errs map[string]string, now time.Time) *CombinedOutcome {
	c := &CombinedOutcome{
		Date:      date,
		Outcomes:  outcomes,
		Errors:    errs,
		CreatedAt: now,
	}

	var matches int
	for _, o := range outcomes {
		c.TotalSettlements += o.SettlementCount
		c.TotalEvents += o.EventCount
		matches += o.TotalMatches()
	}
	c.TotalMatches = matches
	c.OverallMatchingRate = matchingRate(matches, c.TotalSettlements, c.TotalEvents)
	c.OverallStatus = mergeStatus(outcomes)
	if len(outcomes) >= 2 {
		c.Comparison = comparePlatforms(outcomes)
	}

	return c
}

// mergeStatus reduces platform statuses to a single date status:
// all matched wins, any failure dominates, then major discrepancy.
func mergeStatus(outcomes map[string]*Outcome) Status {
	if len(outcomes) == 0 {
		return StatusFailed
	}

	allMatched := true
	var anyFailed, anyMajor bool
	for _, o := range outcomes {
		if o.Status != StatusMatched {
			allMatched = false
		}
		if o.Status == StatusFailed {
			anyFailed = true
		}
		if o.Status == StatusMajorDiscrepancy {
			anyMajor = true
		}
	}

	switch {
	case allMatched:
		return StatusMatched
	case anyFailed:
		return StatusFailed
	case anyMajor:
		return StatusMajorDiscrepancy
	default:
		return StatusPartialMatch
	}
}

// comparePlatforms scores each platform 0.5 matching rate, 0.3 auto
// resolution, 0.2 speed (normalized against a 1s run).
func comparePlatforms(outcomes map[string]*Outcome) *PlatformComparison {
	cmp := &PlatformComparison{Scores: make(map[string]float64, len(outcomes))}

	best := -1.0
	for platform, o := range outcomes {
		speed := 1.0
		if o.ProcessingTimeMs > 0 {
			speed = 1000.0 / float64(o.ProcessingTimeMs)
			if speed > 1 {
				speed = 1
			}
		}
		score := 0.5*o.MatchingRate + 0.3*o.AutoResolutionRate + 0.2*speed
		cmp.Scores[platform] = score
		if score > best || (score == best && platform < cmp.Best) {
			best = score
			cmp.Best = platform
		}
	}

	return cmp
}
