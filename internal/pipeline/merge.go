package pipeline

import "murmur/internal/jobs"

// UnknownSpeaker labels segments that overlap no diarized turn.
const UnknownSpeaker = "unknown"

// AssignSpeakers labels every transcript segment with the speaker whose turn
// overlaps it the most. Ties keep the earliest turn in diarization order, so
// the assignment is deterministic for identical inputs. The input slice is not
// modified.
func AssignSpeakers(segments []jobs.Segment, turns []jobs.SpeakerTurn) []jobs.Segment {
	labeled := make([]jobs.Segment, len(segments))
	for i, segment := range segments {
		best := ""
		bestOverlap := 0.0
		for _, turn := range turns {
			overlap := overlapSeconds(segment.Start, segment.End, turn.Start, turn.End)
			if overlap > bestOverlap {
				bestOverlap = overlap
				best = turn.Speaker
			}
		}
		if best == "" {
			best = UnknownSpeaker
		}
		segment.Speaker = best
		labeled[i] = segment
	}
	return labeled
}

func overlapSeconds(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
