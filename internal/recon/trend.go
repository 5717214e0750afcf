package recon

// Trend window sizes and the deadband applied before calling a direction.
const (
	trendSampleSize = 3
	trendMinEntries = 2 * trendSampleSize
	trendDeadband   = 0.05 // 5 percentage points
)

// AnalyzeTrend summarizes a platform's recent outcome history. The input
// is ordered newest first, as stores return it. Direction compares the
// mean matching rate of the most recent three entries against the three
// before them; movement within the deadband reads as stable.
func AnalyzeTrend(platform string, history []*Outcome) *TrendReport {
	report := &TrendReport{
		Platform:  platform,
		Entries:   len(history),
		Direction: TrendInsufficientData,
	}
	if len(history) == 0 {
		return report
	}

	var sumRate, sumAuto, sumMs float64
	for _, o := range history {
		sumRate += o.MatchingRate
		sumAuto += o.AutoResolutionRate
		sumMs += float64(o.ProcessingTimeMs)
	}
	n := float64(len(history))
	report.AvgMatchingRate = sumRate / n
	report.AvgAutoResolution = sumAuto / n
	report.AvgProcessingTimeMs = sumMs / n

	if len(history) < trendMinEntries {
		return report
	}

	recent := meanMatchingRate(history[:trendSampleSize])
	previous := meanMatchingRate(history[trendSampleSize : 2*trendSampleSize])

	switch delta := recent - previous; {
	case delta > trendDeadband:
		report.Direction = TrendImproving
	case delta < -trendDeadband:
		report.Direction = TrendDegrading
	default:
		report.Direction = TrendStable
	}

	return report
}

func meanMatchingRate(outcomes []*Outcome) float64 {
	var sum float64
	for _, o := range outcomes {
		sum += o.MatchingRate
	}
	return sum / float64(len(outcomes))
}
