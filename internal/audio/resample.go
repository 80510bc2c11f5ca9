package audio

import "context"

// LinearResampler 用线性插值重采样，不依赖外部进程。
// 质量低于 sox，仅在未配置 sox 时作为兜底。
type LinearResampler struct{}

// Resample 把 from Hz 的样本转换为 to Hz。
func (LinearResampler) Resample(_ context.Context, samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, &InputError{Param: "sample_rate", Value: float64(min(from, to)), Msg: "必须为正数"}
	}
	if from == to || len(samples) == 0 {
		return Copy(samples), nil
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out, nil
}
