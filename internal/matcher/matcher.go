// Package matcher implements the exact-then-fuzzy resolver: given a
// normalized transcript and a Target Index, it produces exactly one of
// unique, ambiguous, no_match, or misconfiguration.
package matcher

import (
	"sort"

	"github.com/antzucaro/matchr"

	"github.com/sayverb/voicerouter/internal/domindex"
)

const (
	defaultFuzzyThreshold = 0.7
	defaultFuzzyMargin    = 0.15
)

// CollisionPolicy controls how the resolver reacts to two targets sharing a
// normalized label.
type CollisionPolicy string

const (
	CollisionDisambiguate CollisionPolicy = "disambiguate"
	CollisionError        CollisionPolicy = "error"
)

// Outcome discriminates the resolver's result.
type Outcome string

const (
	OutcomeUnique           Outcome = "unique"
	OutcomeAmbiguous        Outcome = "ambiguous"
	OutcomeNoMatch          Outcome = "no_match"
	OutcomeMisconfiguration Outcome = "misconfiguration"
)

// MatchKind reports whether a unique result was reached via an exact or
// fuzzy comparison.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

// Config configures Resolve.
type Config struct {
	CollisionPolicy CollisionPolicy
	FuzzyThreshold  float64
	FuzzyMargin     float64
}

func (c Config) fuzzyThreshold() float64 {
	if c.FuzzyThreshold == 0 {
		return defaultFuzzyThreshold
	}
	return c.FuzzyThreshold
}

func (c Config) fuzzyMargin() float64 {
	if c.FuzzyMargin == 0 {
		return defaultFuzzyMargin
	}
	return c.FuzzyMargin
}

// LabelGroup is a misconfiguration detail: one normalized label shared by
// more than one target.
type LabelGroup struct {
	Label     string
	TargetIDs []string
}

// Result is the outcome of a resolution attempt.
type Result struct {
	Outcome Outcome

	// Target is set when Outcome == OutcomeUnique.
	Target domindex.Target
	// Match reports how Target was matched.
	Match MatchKind

	// Candidates is set when Outcome == OutcomeAmbiguous: every exact match
	// (in index order), or, when the top two fuzzy scores are closer than
	// the margin, every target at or above the fuzzy threshold (in
	// descending score order).
	Candidates []domindex.Target

	// CollisionGroups is set when Outcome == OutcomeMisconfiguration due to
	// a collision-policy violation.
	CollisionGroups []LabelGroup
}

// Resolve runs the exact-then-fuzzy algorithm against a normalized transcript.
func Resolve(transcript string, index domindex.Index, cfg Config) Result {
	if cfg.CollisionPolicy == CollisionError {
		if groups := findCollisions(index.Targets); len(groups) > 0 {
			return Result{Outcome: OutcomeMisconfiguration, CollisionGroups: groups}
		}
	}

	if exact := matchExact(transcript, index.Targets); len(exact) > 0 {
		if len(exact) == 1 {
			return Result{Outcome: OutcomeUnique, Target: exact[0], Match: MatchExact}
		}
		if cfg.CollisionPolicy == CollisionError {
			return Result{Outcome: OutcomeMisconfiguration, CollisionGroups: groupByLabel(exact)}
		}
		return Result{Outcome: OutcomeAmbiguous, Candidates: exact}
	}

	scored := scoreFuzzy(transcript, index.Targets)
	above := filterAboveThreshold(scored, cfg.fuzzyThreshold())
	if len(above) == 0 {
		return Result{Outcome: OutcomeNoMatch}
	}
	if len(above) == 1 {
		return Result{Outcome: OutcomeUnique, Target: above[0].target, Match: MatchFuzzy}
	}
	if above[0].score-above[1].score >= cfg.fuzzyMargin() {
		return Result{Outcome: OutcomeUnique, Target: above[0].target, Match: MatchFuzzy}
	}
	candidates := make([]domindex.Target, len(above))
	for i, s := range above {
		candidates[i] = s.target
	}
	return Result{Outcome: OutcomeAmbiguous, Candidates: candidates}
}

// findCollisions scans the index for labels shared by two or more targets.
func findCollisions(targets []domindex.Target) []LabelGroup {
	return groupByLabel(targets)
}

func groupByLabel(targets []domindex.Target) []LabelGroup {
	byLabel := make(map[string][]string)
	var order []string
	for _, t := range targets {
		if _, ok := byLabel[t.NormalizedLabel]; !ok {
			order = append(order, t.NormalizedLabel)
		}
		byLabel[t.NormalizedLabel] = append(byLabel[t.NormalizedLabel], t.ID)
	}
	var groups []LabelGroup
	for _, lbl := range order {
		if len(byLabel[lbl]) >= 2 {
			groups = append(groups, LabelGroup{Label: lbl, TargetIDs: byLabel[lbl]})
		}
	}
	return groups
}

// matchExact collects every target whose normalized label equals
// transcript, plus every target whose synonym list contains it.
func matchExact(transcript string, targets []domindex.Target) []domindex.Target {
	var out []domindex.Target
	for _, t := range targets {
		if t.NormalizedLabel == transcript {
			out = append(out, t)
			continue
		}
		for _, syn := range t.Synonyms {
			if syn == transcript {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

type scoredTarget struct {
	target domindex.Target
	score  float64
}

// scoreFuzzy computes the best edit-distance similarity per target across
// its normalized label and every synonym.
func scoreFuzzy(transcript string, targets []domindex.Target) []scoredTarget {
	out := make([]scoredTarget, 0, len(targets))
	for _, t := range targets {
		best := similarity(transcript, t.NormalizedLabel)
		for _, syn := range t.Synonyms {
			if s := similarity(transcript, syn); s > best {
				best = s
			}
		}
		out = append(out, scoredTarget{target: t, score: best})
	}
	return out
}

// similarity computes 1 - d(a, b) / max(len(a), len(b)) using Levenshtein
// edit distance.
func similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	d := matchr.Levenshtein(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// filterAboveThreshold keeps targets scoring >= threshold, sorted by
// descending score.
func filterAboveThreshold(scored []scoredTarget, threshold float64) []scoredTarget {
	var out []scoredTarget
	for _, s := range scored {
		if s.score >= threshold {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}
