// Package analytics derives timing and fluency metrics from interview
// transcripts. Every function is pure and safe to call on any snapshot.
package analytics

import (
	"fmt"
	"math"

	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// DefaultMaxSpeechRate is the realism cap in words per second.
const DefaultMaxSpeechRate = 8.0

// LengthMode selects how human response length is averaged.
type LengthMode string

const (
	// LengthBlock averages word counts over runs of consecutive human
	// utterances.
	LengthBlock LengthMode = "block"
	// LengthUtterance averages word counts per human utterance.
	LengthUtterance LengthMode = "utterance"
)

// ParseLengthMode validates a configured mode. Empty selects LengthBlock.
func ParseLengthMode(s string) (LengthMode, error) {
	switch LengthMode(s) {
	case "", LengthBlock:
		return LengthBlock, nil
	case LengthUtterance:
		return LengthUtterance, nil
	default:
		return "", fmt.Errorf("unknown response length mode %q", s)
	}
}

// Policy holds the tunable constants of the computation.
type Policy struct {
	MaxSpeechRate  float64
	ResponseLength LengthMode
}

func DefaultPolicy() Policy {
	return Policy{MaxSpeechRate: DefaultMaxSpeechRate, ResponseLength: LengthBlock}
}

func (p Policy) normalized() Policy {
	if p.MaxSpeechRate <= 0 {
		p.MaxSpeechRate = DefaultMaxSpeechRate
	}
	if p.ResponseLength == "" {
		p.ResponseLength = LengthBlock
	}
	return p
}

// Metrics is the flat record handed to scoring. JSON names match the
// fields existing consumers read.
type Metrics struct {
	AvgResponseLatency float64 `json:"avgTimeResponse"`
	AvgResponseLength  float64 `json:"avgResponseLength"`
	InterruptionRatio  float64 `json:"counterInterruption"`
	AvgSpeechRate      float64 `json:"avgSpeechRate"`
	MaxSpeechRate      float64 `json:"maxSpeechRate"`
}

// Compute derives all metrics from t under policy p.
func Compute(t transcript.Transcript, p Policy) Metrics {
	p = p.normalized()
	avgRate, maxRate := SpeechRates(t, p.MaxSpeechRate)
	return Metrics{
		AvgResponseLatency: ResponseLatency(t),
		AvgResponseLength:  ResponseLength(t, p.ResponseLength),
		InterruptionRatio:  InterruptionRatio(t),
		AvgSpeechRate:      avgRate,
		MaxSpeechRate:      maxRate,
	}
}

// ResponseLatency is the mean positive delay between the end of an agent
// utterance and the start of the human utterance that answers it. Blank
// human entries are skipped and do not consume the pending agent end.
func ResponseLatency(t transcript.Transcript) float64 {
	var (
		delays     []float64
		agentEnd   float64
		hasPending bool
	)
	for _, u := range t {
		switch u.Speaker {
		case transcript.Agent:
			agentEnd = u.End
			hasPending = true
		case transcript.Human:
			if u.Blank() || !hasPending {
				continue
			}
			if delay := u.Start - agentEnd; delay > 0 {
				delays = append(delays, delay)
			}
			hasPending = false
		}
	}
	return round2(mean(delays))
}

// ResponseLength is the mean word count of human responses, grouped
// according to mode.
func ResponseLength(t transcript.Transcript, mode LengthMode) float64 {
	var counts []float64
	if mode == LengthUtterance {
		for _, u := range t {
			if u.Speaker == transcript.Human && !u.Blank() {
				counts = append(counts, float64(u.Words()))
			}
		}
		return round2(mean(counts))
	}

	open := false
	words := 0
	for _, u := range t {
		if u.Speaker == transcript.Agent {
			if open {
				counts = append(counts, float64(words))
				open, words = false, 0
			}
			continue
		}
		if u.Blank() {
			continue
		}
		open = true
		words += u.Words()
	}
	if open {
		counts = append(counts, float64(words))
	}
	return round2(mean(counts))
}

// InterruptionRatio counts human utterances that start before the
// immediately preceding agent utterance ended, divided by the number of
// agent utterances.
func InterruptionRatio(t transcript.Transcript) float64 {
	agents := t.Count(transcript.Agent)
	if agents == 0 {
		return 0
	}
	interruptions := 0
	for i := 1; i < len(t); i++ {
		prev, cur := t[i-1], t[i]
		if cur.Speaker == transcript.Human && prev.Speaker == transcript.Agent && prev.End > cur.Start {
			interruptions++
		}
	}
	return round2(float64(interruptions) / float64(agents))
}

// SpeechRates returns the mean and peak words-per-second over human
// utterances with positive duration, discarding rates above limit.
func SpeechRates(t transcript.Transcript, limit float64) (avg, peak float64) {
	if limit <= 0 {
		limit = DefaultMaxSpeechRate
	}
	var rates []float64
	for _, u := range t {
		if u.Speaker != transcript.Human || u.Blank() {
			continue
		}
		d := u.Duration()
		if d <= 0 {
			continue
		}
		rate := float64(u.Words()) / d
		if rate > limit {
			continue
		}
		rates = append(rates, rate)
		if rate > peak {
			peak = rate
		}
	}
	return round2(mean(rates)), round2(peak)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
