package privacy

// Format-preserving substitution for structured numeric identifiers.
//
// Each digit is shifted by a fixed per-type amount mod 10; every non-digit
// byte (separators, parentheses, spaces) stays at its original position, so
// the output has the exact layout of the input. This is a format-shape
// scrambler for downstream realism, not a cipher with any strength —
// unlinkability is the token vault's job.

// digitShifts holds the per-type additive shift applied to each digit.
var digitShifts = map[EntityType]int{
	EntityPhone:      3,
	EntityCreditCard: 2,
	EntitySSN:        1,
}

// expectedDigits reports whether n digits is a plausible length for the
// entity type. Values outside the expected length are not shifted; the
// caller falls back to the vault token instead.
func expectedDigits(entityType EntityType, n int) bool {
	switch entityType {
	case EntityPhone:
		return n == 10
	case EntitySSN:
		return n == 9
	case EntityCreditCard:
		return n >= 13 && n <= 19
	}
	return false
}

// formatPreserving applies the per-type digit shift to original, keeping
// all separators in place. ok is false when the entity type has no shift
// configured or the digit count does not match the type's expected length;
// the caller must then use the deterministic token path.
func formatPreserving(entityType EntityType, original string) (replacement string, ok bool) {
	shift, ok := digitShifts[entityType]
	if !ok {
		return "", false
	}

	digits := 0
	for i := 0; i < len(original); i++ {
		if original[i] >= '0' && original[i] <= '9' {
			digits++
		}
	}
	if !expectedDigits(entityType, digits) {
		return "", false
	}

	out := []byte(original)
	for i, b := range out {
		if b >= '0' && b <= '9' {
			out[i] = byte('0' + (int(b-'0')+shift)%10)
		}
	}
	return string(out), true
}
