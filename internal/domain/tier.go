package domain

import "fmt"

// ExitTier maps a percentage-gain threshold to the fraction of the original
// entry quantity sold when the threshold is crossed. Fractions are always of
// EntryQuantity, never of the remaining quantity.
type ExitTier struct {
	ID               string
	GainThresholdPct float64
	ExitFraction     float64
}

// DefaultExitTiers is the standard ladder: a quarter of the entry quantity
// at each of +25%, +50%, +75% and +100%.
func DefaultExitTiers() []ExitTier {
	return []ExitTier{
		{ID: "tp25", GainThresholdPct: 25, ExitFraction: 0.25},
		{ID: "tp50", GainThresholdPct: 50, ExitFraction: 0.25},
		{ID: "tp75", GainThresholdPct: 75, ExitFraction: 0.25},
		{ID: "tp100", GainThresholdPct: 100, ExitFraction: 0.25},
	}
}

// ValidateTiers checks that a ladder is well-formed: unique IDs, strictly
// ascending thresholds, positive fractions that sum to at most 1.
func ValidateTiers(tiers []ExitTier) error {
	seen := make(map[string]bool, len(tiers))
	prev := 0.0
	sum := 0.0
	for i, t := range tiers {
		if t.ID == "" {
			return fmt.Errorf("tier %d: empty id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tier %q: duplicate id", t.ID)
		}
		seen[t.ID] = true
		if t.GainThresholdPct <= 0 {
			return fmt.Errorf("tier %q: gain threshold must be positive", t.ID)
		}
		if i > 0 && t.GainThresholdPct <= prev {
			return fmt.Errorf("tier %q: thresholds must be strictly ascending", t.ID)
		}
		prev = t.GainThresholdPct
		if t.ExitFraction <= 0 || t.ExitFraction > 1 {
			return fmt.Errorf("tier %q: exit fraction must be in (0, 1]", t.ID)
		}
		sum += t.ExitFraction
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("tier fractions sum to %.4f, must not exceed 1", sum)
	}
	return nil
}
