package logits

// DefaultMaskValue is the bias given to masked ids.
const DefaultMaskValue float32 = -1e9

// Mask returns a copy of logits where every id outside allowed, and every
// id in disallowed, is set to value. With an empty allowed set only the
// disallowed ids are masked. Ids outside the logits range are ignored. The
// input is returned unchanged when nothing in range would be masked.
func Mask(logits []float32, allowed, disallowed map[int]struct{}, value float32) []float32 {
	if len(allowed) == 0 {
		return MaskDisallowed(logits, disallowed, value)
	}
	inRange := false
	for id := range allowed {
		if id >= 0 && id < len(logits) {
			inRange = true
			break
		}
	}
	if !inRange {
		for id := range disallowed {
			if id >= 0 && id < len(logits) {
				inRange = true
				break
			}
		}
	}
	if !inRange {
		return logits
	}
	out := make([]float32, len(logits))
	for i := range out {
		out[i] = value
	}
	for id := range allowed {
		if id >= 0 && id < len(logits) {
			out[id] = logits[id]
		}
	}
	for id := range disallowed {
		if id >= 0 && id < len(logits) {
			out[id] = value
		}
	}
	return out
}

// MaskDisallowed returns a copy of logits with the disallowed ids set to
// value.
func MaskDisallowed(logits []float32, disallowed map[int]struct{}, value float32) []float32 {
	if len(disallowed) == 0 {
		return logits
	}
	var out []float32
	for id := range disallowed {
		if id < 0 || id >= len(logits) {
			continue
		}
		if out == nil {
			out = make([]float32, len(logits))
			copy(out, logits)
		}
		out[id] = value
	}
	if out == nil {
		return logits
	}
	return out
}
