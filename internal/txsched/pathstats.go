package txsched

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// PathStats accumulates observed performance for one (destination, path)
// pair, keyed by destination plus PathSignature(path), per spec.md §4.9.
type PathStats struct {
	Destination   string
	PathSig       string
	Hops          int
	SuccessCount  int
	FailureCount  int
	TotalRTT      time.Duration
	RTTSampleSize int
	LastUsed      time.Time
}

// RecordSuccess records a successful attempt with its round-trip time.
func (p *PathStats) RecordSuccess(rtt time.Duration, now time.Time) {
	p.SuccessCount++
	p.TotalRTT += rtt
	p.RTTSampleSize++
	p.LastUsed = now
}

// RecordFailure records a failed attempt (no ack within retry budget).
func (p *PathStats) RecordFailure(now time.Time) {
	p.FailureCount++
	p.LastUsed = now
}

// successRate is successCount / (successCount + failureCount), or 0 if
// never attempted.
func (p *PathStats) successRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}

	return float64(p.SuccessCount) / float64(total)
}

// etxCapped is the ceiling applied once the observed success rate drops
// below etxMinSuccessRate: the path is still rankable, just heavily
// penalized, rather than producing a divide-by-near-zero blowup.
const etxCapped = 20.0

const etxMinSuccessRate = 0.05

// defaultAverageRTT is used when a path has no RTT samples yet.
const defaultAverageRTT = 3 * time.Second

// freshnessHalfLife controls how fast a path's freshness score decays with
// time since last use, per spec.md §4.9.
const freshnessHalfLife = 1800.0 // seconds

// ETX is the expected transmission count 1/successRate, capped at
// etxCapped when successRate is at or below etxMinSuccessRate (including
// the never-attempted case).
func (p *PathStats) ETX() float64 {
	rate := p.successRate()
	if rate <= etxMinSuccessRate {
		return etxCapped
	}

	etx := 1.0 / rate
	if etx > etxCapped {
		return etxCapped
	}

	return etx
}

// AverageRTT is totalRTT / rttSampleSize, or defaultAverageRTT if no
// samples exist yet.
func (p *PathStats) AverageRTT() time.Duration {
	if p.RTTSampleSize == 0 {
		return defaultAverageRTT
	}

	return p.TotalRTT / time.Duration(p.RTTSampleSize)
}

// Freshness decays exponentially from 1.0 as time since LastUsed grows, as
// exp(-age/freshnessHalfLife): despite the constant's name it is a time
// constant, so freshness falls to 1/e (not 1/2) after freshnessHalfLife
// seconds. A path never used scores 0.
func (p *PathStats) Freshness(now time.Time) float64 {
	if p.LastUsed.IsZero() {
		return 0
	}

	age := now.Sub(p.LastUsed).Seconds()
	if age < 0 {
		age = 0
	}

	return math.Exp(-age / freshnessHalfLife)
}

// ETT is the expected transmission time: averageRTT * ETX, per spec.md
// §4.9.
func (p *PathStats) ETT(now time.Time) time.Duration {
	return time.Duration(float64(p.AverageRTT()) * p.ETX())
}

// composite blends ETT, hop count, freshness, and ETX into a single
// ranking score; lower is better, per spec.md §4.9.
func (p *PathStats) composite(now time.Time) float64 {
	ett := p.ETT(now).Seconds()
	freshness := p.Freshness(now)
	etx := p.ETX()

	extra := etx - 1
	if extra < 0 {
		extra = 0
	}

	return ett + 0.5*float64(p.Hops) + 2.0*(1-freshness) + 0.3*extra
}

// Suggestion is one ranked path candidate returned by SuggestPaths.
type Suggestion struct {
	Stats    *PathStats
	Score    float64
	Category string
	Reason   string
}

// Category tags applied to each returned suggestion, per spec.md §4.9: a
// path is "direct" when it has zero hops, else "mostReliable" when its ETX
// is at or below etxMostReliableThreshold, else "bestETT".
const (
	CategoryDirect       = "direct"
	CategoryMostReliable = "mostReliable"
	CategoryBestETT      = "bestETT"
)

// etxMostReliableThreshold is the ETX ceiling below which a non-direct path
// is tagged mostReliable rather than bestETT, per spec.md §4.9.
const etxMostReliableThreshold = 1.5

// freshnessMinForSuggestion excludes paths too stale to be trustworthy from
// SuggestPaths, per spec.md §4.9.
const freshnessMinForSuggestion = 0.1

// PathTracker owns all PathStats observed for all destinations.
type PathTracker struct {
	stats map[string]*PathStats
}

// NewPathTracker returns an empty PathTracker.
func NewPathTracker() *PathTracker {
	return &PathTracker{stats: make(map[string]*PathStats)}
}

func key(destination, pathSig string) string {
	return destination + "|" + pathSig
}

// Observe returns the PathStats for (destination, path), creating it on
// first use.
func (t *PathTracker) Observe(destination string, path []string) *PathStats {
	sig := PathSignature(path)
	k := key(destination, sig)

	s, ok := t.stats[k]
	if !ok {
		s = &PathStats{Destination: destination, PathSig: sig, Hops: len(path)}
		t.stats[k] = s
	}

	return s
}

// SuggestPaths filters every path known for destination to those with
// freshness >= freshnessMinForSuggestion, ranks the survivors by ascending
// composite score, and returns up to n of them (n <= 0 means unlimited),
// each tagged by category with a human-readable reason, per spec.md §4.9.
func (t *PathTracker) SuggestPaths(destination string, n int, now time.Time) []Suggestion {
	var candidates []*PathStats

	for _, s := range t.stats {
		if s.Destination == destination && s.Freshness(now) >= freshnessMinForSuggestion {
			candidates = append(candidates, s)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].composite(now) < candidates[j].composite(now)
	})

	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	out := make([]Suggestion, 0, len(candidates))

	for _, c := range candidates {
		category := categoryFor(c)
		out = append(out, Suggestion{
			Stats:    c,
			Score:    c.composite(now),
			Category: category,
			Reason:   reasonFor(category, c, now),
		})
	}

	return out
}

// categoryFor tags a single candidate per spec.md §4.9: direct when 0 hops,
// else mostReliable when etx <= etxMostReliableThreshold, else bestETT.
func categoryFor(c *PathStats) string {
	switch {
	case c.Hops == 0:
		return CategoryDirect
	case c.ETX() <= etxMostReliableThreshold:
		return CategoryMostReliable
	default:
		return CategoryBestETT
	}
}

func reasonFor(category string, c *PathStats, now time.Time) string {
	switch category {
	case CategoryDirect:
		return "direct path, no digipeaters"
	case CategoryMostReliable:
		return fmt.Sprintf("low loss via %s (etx %.2f)", displayPathSig(c), c.ETX())
	default:
		return fmt.Sprintf("fastest expected transmission time via %s (ett %s)", displayPathSig(c), c.ETT(now))
	}
}

func displayPathSig(c *PathStats) string {
	if c.PathSig == "" {
		return c.Destination
	}

	return c.PathSig
}
