package models

import "fmt"

// Verdict is the gate decision for a summary.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictFlag    Verdict = "FLAG"
	// VerdictReview is produced only by fusion and always needs a human.
	VerdictReview Verdict = "REVIEW"
	VerdictReject Verdict = "REJECT"
)

// Rank orders verdicts REJECT > REVIEW > FLAG > APPROVE.
func (v Verdict) Rank() int {
	switch v {
	case VerdictReject:
		return 4
	case VerdictReview:
		return 3
	case VerdictFlag:
		return 2
	case VerdictApprove:
		return 1
	default:
		return 0
	}
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool { return v.Rank() > 0 }

// Overridable reports whether an admin may set v as an override target.
func (v Verdict) Overridable() bool {
	return v == VerdictApprove || v == VerdictFlag || v == VerdictReject
}

// Worst returns the more severe of a and b.
func Worst(a, b Verdict) Verdict {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseVerdict validates s as a verdict.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(s)
	if !v.Valid() {
		return "", fmt.Errorf("invalid verdict: %q", s)
	}
	return v, nil
}

// PublishState tracks what the gate allows downstream publication to do.
type PublishState string

const (
	PublishStateUnreviewed  PublishState = "unreviewed"
	PublishStatePublished   PublishState = "published"
	PublishStateReviewQueue PublishState = "review_queue"
	PublishStateBlocked     PublishState = "blocked"
)
