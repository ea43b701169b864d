package experiment

import "math"

// SignificanceLevel 是双尾检验的显著性阈值。
const SignificanceLevel = 0.05

// ZTest 对两组比例做双样本 z 检验，返回 z 值与双尾 p 值。
// 任一组曝光为 0 或标准误为 0 时返回 z=0、p=1。
func ZTest(controlSum float64, controlExposures int64, treatmentSum float64, treatmentExposures int64) (z, p float64) {
	if controlExposures <= 0 || treatmentExposures <= 0 {
		return 0, 1
	}
	nc, nt := float64(controlExposures), float64(treatmentExposures)
	rc, rt := controlSum/nc, treatmentSum/nt
	pooled := (controlSum + treatmentSum) / (nc + nt)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nc + 1/nt))
	// pooled > 1（非 0/1 指标）时 se 为 NaN，同样视为不可检验
	if !(se > 0) {
		return 0, 1
	}
	z = (rt - rc) / se
	// 2 * (1 - Φ(|z|)) == erfc(|z| / √2)
	p = math.Erfc(math.Abs(z) / math.Sqrt2)
	return z, p
}

// Lift 返回相对提升，对照组为 0 时返回 0。
func Lift(controlRate, treatmentRate float64) float64 {
	if controlRate == 0 {
		return 0
	}
	return (treatmentRate - controlRate) / controlRate
}
