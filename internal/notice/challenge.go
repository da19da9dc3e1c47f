package notice

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ChallengeField names one fact the employee may be asked to restate before
// read confirmation.
type ChallengeField string

const (
	ChallengeCategory     ChallengeField = "category"
	ChallengeDuration     ChallengeField = "duration"
	ChallengeIncidentDate ChallengeField = "incident_date"
)

// challengeFields lists the askable facts for a notice. Duration only
// applies to suspensions.
func challengeFields(n *Notice) []ChallengeField {
	fields := []ChallengeField{ChallengeCategory, ChallengeIncidentDate}
	if n.Category == CategorySuspension && n.SuspensionDays > 0 {
		fields = append(fields, ChallengeDuration)
	}
	return fields
}

// PickChallengeField chooses the fact to ask about at random.
func PickChallengeField(n *Notice) ChallengeField {
	fields := challengeFields(n)
	return fields[rand.IntN(len(fields))]
}

// challengeCandidates returns the accepted answers for a field. The visitor
// types free text, so every natural phrasing of the fact is a candidate.
func challengeCandidates(n *Notice, field ChallengeField) []string {
	switch field {
	case ChallengeCategory:
		return []string{n.Category.label(), string(n.Category)}
	case ChallengeDuration:
		return []string{
			fmt.Sprintf("%d días", n.SuspensionDays),
			fmt.Sprintf("%d dias", n.SuspensionDays),
			fmt.Sprintf("%d", n.SuspensionDays),
		}
	case ChallengeIncidentDate:
		return []string{
			n.IncidentAt.Format("2006-01-02"),
			n.IncidentAt.Format("02/01/2006"),
			n.IncidentAt.Format("02-01-2006"),
		}
	default:
		return nil
	}
}

// matchesChallenge fuzzy-compares the free-text answer against every
// candidate phrasing, tolerating up to maxDistance edits.
func matchesChallenge(n *Notice, field ChallengeField, answer string, maxDistance int) bool {
	normalized := normalizeAnswer(answer)
	if normalized == "" {
		return false
	}
	for _, candidate := range challengeCandidates(n, field) {
		if levenshtein.ComputeDistance(normalized, normalizeAnswer(candidate)) <= maxDistance {
			return true
		}
	}
	return false
}

// normalizeAnswer lowercases, collapses whitespace and strips combining
// marks, so "días" and "dias" compare equal and the edit distance scores
// only real typing differences. The chain is built per call because its
// buffers are not safe for concurrent use.
func normalizeAnswer(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}
