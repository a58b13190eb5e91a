package document

import (
	"math"
	"sort"
	"time"
)

// Authenticity analyzer tunables. 3 words per second sustained between two
// saves is roughly 180 WPM, beyond plausible human typing.
const (
	maxHumanWPS = 3.0

	FlagPaste   = "paste"
	FlagHighWPS = "high_wps"
)

// analyzer skip-set: administrative events, never scored as typing
var skipTriggers = map[string]bool{
	TriggerBaseline: true,
	TriggerRestore:  true,
	TriggerSubmit:   true,
}

type (
	// AuthenticityFlag marks one suspicious interval between two saves.
	AuthenticityFlag struct {
		Timestamp time.Time `json:"timestamp"`
		WordDelta int       `json:"word_delta"`
		Seconds   int       `json:"seconds"`
		WPS       float64   `json:"wps"` // rounded to 1 decimal
		Reason    string    `json:"reason"`
	}

	// Authenticity is a 0-100 estimate of the fraction of added words typed
	// at plausible human speed. A nil Score means "not enough data", which
	// callers must render as such rather than as 0%.
	Authenticity struct {
		Score *int               `json:"score"`
		Flags []AuthenticityFlag `json:"flags"`
	}
)

// AnalyzeAuthenticity scans a document's ordered history for implausible
// typing speed. Paste telemetry is surfaced as an informational flag but
// never penalizes the score: pasting from a personal draft is common and
// often legitimate, so pasted words are simply excluded from both tallies.
// Only physically impossible typing speed counts against the score. Pure;
// never fails.
func AnalyzeAuthenticity(entries []HistoryEntry) Authenticity {
	result := Authenticity{Flags: []AuthenticityFlag{}}
	if len(entries) < 2 {
		return result
	}

	sorted := make([]HistoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	var organic, suspicious int
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		if skipTriggers[curr.Trigger] {
			continue
		}

		wordDelta := curr.WordCount - prev.WordCount
		if wordDelta <= 0 {
			// deletions and rewrites that shrink the text are not scored
			continue
		}

		seconds := int(math.Round(curr.CreatedAt.Sub(prev.CreatedAt).Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		wps := float64(wordDelta) / float64(seconds)

		var pasteWords int
		if curr.PasteWordCount != nil && *curr.PasteWordCount > 0 {
			pasteWords = *curr.PasteWordCount
			if pasteWords > wordDelta {
				pasteWords = wordDelta
			}
			result.Flags = append(result.Flags, AuthenticityFlag{
				Timestamp: curr.CreatedAt,
				WordDelta: pasteWords,
				Seconds:   seconds,
				WPS:       round1(wps),
				Reason:    FlagPaste,
			})
		}

		scored := wordDelta - pasteWords
		if scored == 0 {
			continue
		}
		if wps > maxHumanWPS {
			suspicious += scored
			if pasteWords == 0 { // one flag per interval
				result.Flags = append(result.Flags, AuthenticityFlag{
					Timestamp: curr.CreatedAt,
					WordDelta: scored,
					Seconds:   seconds,
					WPS:       round1(wps),
					Reason:    FlagHighWPS,
				})
			}
		} else {
			organic += scored
		}
	}

	if organic+suspicious == 0 {
		return result
	}
	score := int(math.Round(clamp(float64(organic)/float64(organic+suspicious)*100, 0, 100)))
	result.Score = &score
	return result
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
