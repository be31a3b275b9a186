// Package events turns raw stimulus markers into ground-truth events
// the decoding pipeline can score against.
package events

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/emihelj/cybathlon/internal/recording"
)

// MarkerDigits is the width a stimulus code must have to carry an
// action: the leading digit selects the action, the trailing digit is
// free for the acquisition side to use.
const MarkerDigits = 2

// Event is one decoded annotation: where it sits in the recording and
// which action the subject was cued to perform.
type Event struct {
	Sample    int
	Timestamp float64
	Code      int
	Action    string
}

// Counts reports how many markers a decoding pass kept and dropped.
type Counts struct {
	Decoded   int
	Discarded int
}

// Decoder maps the leading digit of two-digit marker codes onto action
// names.
type Decoder struct {
	actions map[int]string
}

// NewDecoder builds a decoder over a digit-to-action table.
func NewDecoder(actions map[int]string) *Decoder {
	return &Decoder{actions: actions}
}

// Decode walks the recording's markers in order and keeps those that
// carry a known action. Malformed or unknown codes are counted and
// dropped, never fatal.
func (d *Decoder) Decode(rec *recording.Recording) ([]Event, Counts) {
	var decoded []Event
	var counts Counts
	for _, m := range rec.Markers {
		if m.Sample < 0 || m.Sample >= len(rec.Timestamps) {
			counts.Discarded++
			log.Debug().Int("code", m.Code).Int("sample", m.Sample).Msg("discarding marker outside recording")
			continue
		}
		action, ok := d.action(m.Code)
		if !ok {
			counts.Discarded++
			log.Debug().Int("code", m.Code).Int("sample", m.Sample).Msg("discarding marker with unknown format")
			continue
		}
		counts.Decoded++
		decoded = append(decoded, Event{
			Sample:    m.Sample,
			Timestamp: rec.Timestamps[m.Sample],
			Code:      m.Code,
			Action:    action,
		})
	}
	return decoded, counts
}

// action applies the two-digit rule: the code must print with exactly
// MarkerDigits digits and its leading digit must name a known action.
func (d *Decoder) action(code int) (string, bool) {
	s := strconv.Itoa(code)
	if len(s) != MarkerDigits {
		return "", false
	}
	lead := int(s[0] - '0')
	a, ok := d.actions[lead]
	return a, ok
}
