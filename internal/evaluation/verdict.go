package evaluation

// Verdict compares the regular agent output against its shadow.
type Verdict string

const (
	VerdictNone                    Verdict = ""
	VerdictRegularIsBetter         Verdict = "regular_is_better"
	VerdictRegularIsSlightlyBetter Verdict = "regular_is_slightly_better"
	VerdictShadowIsBetter          Verdict = "shadow_is_better"
	VerdictShadowIsSlightlyBetter  Verdict = "shadow_is_slightly_better"
	VerdictTie                     Verdict = "tie"
)

// MapVerdict turns a position-relative judgement back into a
// regular-vs-shadow verdict. regularIsRequest1 records which position the
// regular rendering was shown in; better is "1", "2" or "tie".
func MapVerdict(regularIsRequest1 bool, better string, significant bool) Verdict {
	var firstWins bool
	switch better {
	case "1":
		firstWins = true
	case "2":
		firstWins = false
	case "tie":
		return VerdictTie
	default:
		return VerdictNone
	}

	if firstWins == regularIsRequest1 {
		if significant {
			return VerdictRegularIsBetter
		}
		return VerdictRegularIsSlightlyBetter
	}
	if significant {
		return VerdictShadowIsBetter
	}
	return VerdictShadowIsSlightlyBetter
}
