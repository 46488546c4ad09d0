package engine

// variantSaltSuffix separates the variant hash space from the percentage
// rollout hash space of the same flag.
const variantSaltSuffix = ":variant"

// AssignVariant picks a variant for the subject, weighted and deterministic.
//
// The walk accumulates cumulative weight boundaries scaled to [0,100] and
// returns the first variant whose boundary exceeds the subject's bucket.
// Changing a weight redistributes assignments smoothly but never shuffles
// subjects between unaffected variants.
func AssignVariant(snap *FlagSnapshot, subject string) string {
	variants := snap.Variants
	if len(variants) == 0 {
		return snap.DefaultVariant
	}

	total := 0
	for _, v := range variants {
		total += v.Weight
	}
	if total == 0 {
		return variants[0].Key
	}

	bucket := Bucket(snap.Key+variantSaltSuffix, subject)

	acc := 0
	for _, v := range variants {
		acc += v.Weight
		boundary := 100 * float64(acc) / float64(total)
		if float64(bucket) < boundary {
			return v.Key
		}
	}

	// Numeric edge: the walk completed without crossing a boundary.
	return variants[len(variants)-1].Key
}
