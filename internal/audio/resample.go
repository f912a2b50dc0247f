package audio

// Resample converts src from srcRate to dstRate by linear interpolation.
// Unknown rates leave the samples as they are.
func Resample(src []float32, srcRate, dstRate int) []float32 {
	if len(src) == 0 {
		return nil
	}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return append([]float32(nil), src...)
	}

	// ceil(len * dst / src) without float rounding drift
	n := int((int64(len(src))*int64(dstRate) + int64(srcRate) - 1) / int64(srcRate))
	out := make([]float32, max(n, 1))
	step := float64(srcRate) / float64(dstRate)
	last := len(src) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = src[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = clamp(src[j] + (src[j+1]-src[j])*frac)
	}
	return out
}
