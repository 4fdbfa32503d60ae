package embedding

import (
	"context"
	"math"
)

// FakeProvider is a deterministic, dependency-free Provider used by
// tests across this module. Each vector element is the sine of a
// position-weighted sum of the text's characters, so equal strings
// always produce equal vectors without requiring a real model; strings
// that differ in a single character get unrelated vectors, not nearby
// ones.
type FakeProvider struct {
	Dim      int
	IsReady  bool
	Model    string
	CallLog  []string
}

func NewFakeProvider(dim int) *FakeProvider {
	if dim <= 0 {
		dim = 8
	}
	return &FakeProvider{Dim: dim, IsReady: true, Model: "fake-embed"}
}

func (f *FakeProvider) Dimension() int    { return f.Dim }
func (f *FakeProvider) Ready() bool       { return f.IsReady }
func (f *FakeProvider) ModelName() string { return f.Model }

func (f *FakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.CallLog = append(f.CallLog, text)
	vec := make([]float32, f.Dim)
	for i := range vec {
		var sum float64
		for j, r := range text {
			sum += float64(int(r)) * float64((j+i+1))
		}
		vec[i] = float32(math.Sin(sum))
	}
	return vec, nil
}

func (f *FakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
