package model

import (
	"math"
	"testing"

	"github.com/tsawler/go-textclass/tensor"
)

func gradLogits(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	logits, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	logits.SetRequiresGrad(true)
	return logits
}

func intLabels(t *testing.T, data []int32) *tensor.Tensor {
	t.Helper()
	labels, err := tensor.NewTensor([]int{len(data)}, tensor.Int32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return labels
}

func hotLabels(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	labels, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return labels
}

func lossValue(t *testing.T, loss *tensor.Tensor) float64 {
	t.Helper()
	v, err := loss.Float32Item()
	if err != nil {
		t.Fatalf("Float32Item failed: %v", err)
	}
	return float64(v)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	logits := gradLogits(t, []int{1, 2}, []float32{0, 0})
	labels := intLabels(t, []int32{0})

	loss, err := NewCrossEntropyLoss(nil).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v := lossValue(t, loss); math.Abs(v-math.Ln2) > 1e-5 {
		t.Errorf("Expected ln(2), got %f", v)
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	logits := gradLogits(t, []int{1, 2}, []float32{1, 2})
	labels := intLabels(t, []int32{1})

	loss, err := NewCrossEntropyLoss(nil).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad, err := logits.Grad().GetFloat32Data()
	if err != nil {
		t.Fatalf("Grad failed: %v", err)
	}
	// softmax([1, 2]) = [0.2689, 0.7311]; gradient is p - onehot.
	p0 := 1.0 / (1.0 + math.E)
	expected := []float64{p0, (1 - p0) - 1}
	for i, e := range expected {
		if math.Abs(float64(grad[i])-e) > 1e-5 {
			t.Errorf("Gradient %d: expected %f, got %f", i, e, grad[i])
		}
	}
}

func TestCrossEntropyClassWeights(t *testing.T) {
	logits := gradLogits(t, []int{2, 2}, []float32{0, 0, 0, 0})
	labels := intLabels(t, []int32{0, 1})

	unweighted, err := NewCrossEntropyLoss(nil).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	// Equal losses per sample, so any weighting still averages to ln(2).
	if v := lossValue(t, unweighted); math.Abs(v-math.Ln2) > 1e-5 {
		t.Errorf("Expected ln(2), got %f", v)
	}

	weighted, err := NewCrossEntropyLoss([]float32{3, 1}).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v := lossValue(t, weighted); math.Abs(v-math.Ln2) > 1e-5 {
		t.Errorf("Weighted average of equal losses should stay ln(2), got %f", v)
	}
}

func TestCrossEntropyRejectsBadLabels(t *testing.T) {
	logits := gradLogits(t, []int{1, 2}, []float32{0, 0})
	labels := intLabels(t, []int32{5})

	if _, err := NewCrossEntropyLoss(nil).Compute(logits, labels); err == nil {
		t.Error("Expected error for out-of-range label")
	}
}

func TestBCEWithLogitsValueAndGradient(t *testing.T) {
	logits := gradLogits(t, []int{1, 1}, []float32{0})
	labels := hotLabels(t, []int{1, 1}, []float32{1})

	loss, err := NewBCEWithLogitsLoss(nil).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v := lossValue(t, loss); math.Abs(v-math.Ln2) > 1e-5 {
		t.Errorf("Expected ln(2), got %f", v)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad, _ := logits.Grad().GetFloat32Data()
	// d/dz of BCE at z=0, y=1 is sigmoid(0) - 1 = -0.5.
	if math.Abs(float64(grad[0])+0.5) > 1e-5 {
		t.Errorf("Expected gradient -0.5, got %f", grad[0])
	}
}

func TestBCEWithLogitsPosWeight(t *testing.T) {
	logits := gradLogits(t, []int{1, 1}, []float32{0})
	labels := hotLabels(t, []int{1, 1}, []float32{1})

	loss, err := NewBCEWithLogitsLoss([]float32{2}).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	// The positive term doubles: 2 * ln(2).
	if v := lossValue(t, loss); math.Abs(v-2*math.Ln2) > 1e-5 {
		t.Errorf("Expected 2*ln(2), got %f", v)
	}
}

func TestBCEWithLogitsLargeLogitsStable(t *testing.T) {
	logits := gradLogits(t, []int{1, 2}, []float32{500, -500})
	labels := hotLabels(t, []int{1, 2}, []float32{1, 0})

	loss, err := NewBCEWithLogitsLoss(nil).Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	v := lossValue(t, loss)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("Loss should stay finite for saturated logits, got %f", v)
	}
	if v > 1e-5 {
		t.Errorf("Correct confident predictions should have near-zero loss, got %f", v)
	}
}

func TestZLPRValueAndGradient(t *testing.T) {
	logits := gradLogits(t, []int{1, 2}, []float32{0, 0})
	labels := hotLabels(t, []int{1, 2}, []float32{1, 0})

	loss, err := NewZLPRLoss().Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	// log(1 + e^0) + log(1 + e^0) = 2 ln(2)
	if v := lossValue(t, loss); math.Abs(v-2*math.Ln2) > 1e-5 {
		t.Errorf("Expected 2*ln(2), got %f", v)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad, _ := logits.Grad().GetFloat32Data()
	// Positive label is pushed up, negative pushed down, both at rate 0.5.
	if math.Abs(float64(grad[0])+0.5) > 1e-5 {
		t.Errorf("Positive gradient: expected -0.5, got %f", grad[0])
	}
	if math.Abs(float64(grad[1])-0.5) > 1e-5 {
		t.Errorf("Negative gradient: expected 0.5, got %f", grad[1])
	}
}

func TestZLPRDrivesScoresPastZero(t *testing.T) {
	// Confident correct scores should give near-zero loss.
	logits := gradLogits(t, []int{1, 2}, []float32{10, -10})
	labels := hotLabels(t, []int{1, 2}, []float32{1, 0})

	loss, err := NewZLPRLoss().Compute(logits, labels)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v := lossValue(t, loss); v > 0.001 {
		t.Errorf("Expected near-zero loss, got %f", v)
	}
}
