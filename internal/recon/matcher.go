package recon

import (
	"sort"
	"strings"
	"time"
)

// Fuzzy matching weights and bounds.
const (
	weightEventType = 0.4
	weightTime      = 0.3
	weightUser      = 0.2
	weightProduct   = 0.1

	// acceptScore is the minimum fuzzy score for a pattern match.
	acceptScore = 0.7

	// timeWindow bounds the proximity component; events further apart
	// contribute nothing.
	timeWindow = 24 * time.Hour
)

// Matcher pairs settlement records with internal events in two phases:
// exact id matching first, then scored fuzzy matching over the residue.
type Matcher struct{}

// NewMatcher creates a matching engine.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Run matches settlements against events for one platform and date.
// Each event is claimed by at most one settlement. Settlements are
// processed in input order; candidate events are scanned highest score
// first with ties broken by ascending event id, so the result does not
// depend on the event list's ordering.
func (m *Matcher) Run(settlements []SettlementRecord, events []InternalEvent) MatchResult {
	var result MatchResult

	claimed := make(map[string]bool, len(events))
	eventsByID := make(map[string]*InternalEvent, len(events))
	for i := range events {
		eventsByID[events[i].ID] = &events[i]
	}

	// Phase 1: exact id match on transactionId or originalTransactionId.
	var residue []*SettlementRecord
	for i := range settlements {
		s := &settlements[i]
		ev := m.exactCandidate(s, eventsByID, claimed)
		if ev == nil {
			residue = append(residue, s)
			continue
		}
		claimed[ev.ID] = true
		result.Matches = append(result.Matches, Match{
			Settlement: s,
			Event:      ev,
			Type:       MatchExactID,
			Confidence: 1.0,
		})
	}

	// Phase 2: scored fuzzy match over whatever both sides have left.
	for _, s := range residue {
		ev, score := m.bestCandidate(s, events, claimed)
		if ev == nil || score < acceptScore {
			result.UnmatchedSettlements = append(result.UnmatchedSettlements, s)
			continue
		}
		claimed[ev.ID] = true
		result.Matches = append(result.Matches, Match{
			Settlement: s,
			Event:      ev,
			Type:       MatchPattern,
			Confidence: score,
		})
	}

	for i := range events {
		if !claimed[events[i].ID] {
			result.UnmatchedEvents = append(result.UnmatchedEvents, &events[i])
		}
	}

	return result
}

func (m *Matcher) exactCandidate(s *SettlementRecord, byID map[string]*InternalEvent, claimed map[string]bool) *InternalEvent {
	if ev, ok := byID[s.TransactionID]; ok && !claimed[ev.ID] {
		return ev
	}
	if s.OriginalTransactionID != "" {
		if ev, ok := byID[s.OriginalTransactionID]; ok && !claimed[ev.ID] {
			return ev
		}
	}
	return nil
}

// bestCandidate returns the unclaimed event with the highest fuzzy score.
// Ties go to the lexicographically smallest event id.
func (m *Matcher) bestCandidate(s *SettlementRecord, events []InternalEvent, claimed map[string]bool) (*InternalEvent, float64) {
	type scored struct {
		ev    *InternalEvent
		score float64
	}

	var candidates []scored
	for i := range events {
		ev := &events[i]
		if claimed[ev.ID] {
			continue
		}
		if sc := m.score(s, ev); sc > 0 {
			candidates = append(candidates, scored{ev: ev, score: sc})
		}
	}
	if len(candidates) == 0 {
		return nil, 0
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].ev.ID < candidates[j].ev.ID
	})

	return candidates[0].ev, candidates[0].score
}

// score computes the weighted fuzzy similarity between a settlement and an
// event: 0.4 type compatibility, 0.3 time proximity, 0.2 user match,
// 0.1 product match.
func (m *Matcher) score(s *SettlementRecord, ev *InternalEvent) float64 {
	var score float64

	if expected, ok := expectedInternalType(s.EventType); ok && expected == ev.EventType {
		score += weightEventType
	}

	apart := s.CreatedAt.Sub(ev.CreatedAt)
	if apart < 0 {
		apart = -apart
	}
	if apart <= timeWindow {
		score += weightTime * (1 - apart.Hours()/timeWindow.Hours())
	}

	if s.UserID != "" && s.UserID == ev.SubscriptionID {
		score += weightUser
	}

	if ev.SubscriptionID != "" && strings.Contains(s.ProductID, ev.SubscriptionID) {
		score += weightProduct
	}

	return score
}

// expectedInternalType maps a settlement event type to the internal event
// type it should correspond to. Adjustment and chargeback settlements have
// no lifecycle counterpart.
func expectedInternalType(t SettlementEventType) (InternalEventType, bool) {
	switch t {
	case SettlementPurchase:
		return EventPurchase, true
	case SettlementRenewal:
		return EventRenewal, true
	case SettlementRefund:
		return EventRefund, true
	default:
		return "", false
	}
}
