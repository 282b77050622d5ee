package billing

// AlreadySubmitted reports whether target already exists among the remote
// entries. Two policies are composed:
//
//  1. strict: same start day, same end day and exact cent equality;
//  2. fallback: same start and end day regardless of amount.
//
// The fallback is a conservative "don't even attempt" guard: amounts parsed
// from a rendered page are the least reliable field, and a same-period entry
// with a slightly different amount is far more likely a re-render artifact
// than a genuinely distinct submission.
func AlreadySubmitted(entries []ExistingEntry, target Request) bool {
	if matchStrict(entries, target) {
		return true
	}
	return matchPeriodOnly(entries, target)
}

func matchStrict(entries []ExistingEntry, target Request) bool {
	for _, e := range entries {
		if e.AmountCents == target.AmountCents &&
			SameDay(e.Period.Start, target.Period.Start) &&
			SameDay(e.Period.End, target.Period.End) {
			return true
		}
	}
	return false
}

func matchPeriodOnly(entries []ExistingEntry, target Request) bool {
	for _, e := range entries {
		if SameDay(e.Period.Start, target.Period.Start) &&
			SameDay(e.Period.End, target.Period.End) {
			return true
		}
	}
	return false
}
