package tensor

import (
	"math"
	"testing"
)

func newGradTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tensor, err := NewTensor(shape, Float32, CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	tensor.SetRequiresGrad(true)
	return tensor
}

func TestBackwardThroughMul(t *testing.T) {
	w := newGradTensor(t, []int{1}, []float32{3})
	x, _ := NewTensor([]int{1}, Float32, CPU, []float32{5})

	y, err := MulAutograd(w, x)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dy/dw = x
	grad := w.Grad()
	if grad == nil {
		t.Fatal("Expected gradient on w")
	}
	if g := grad.Data.([]float32)[0]; g != 5 {
		t.Errorf("Expected gradient 5, got %f", g)
	}
	if x.Grad() != nil {
		t.Error("x does not require grad, should have no gradient")
	}
}

func TestBackwardAccumulates(t *testing.T) {
	w := newGradTensor(t, []int{1}, []float32{2})
	x, _ := NewTensor([]int{1}, Float32, CPU, []float32{4})

	for i := 0; i < 2; i++ {
		y, err := MulAutograd(w, x)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		if err := y.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
	}

	if g := w.Grad().Data.([]float32)[0]; g != 8 {
		t.Errorf("Expected accumulated gradient 8, got %f", g)
	}

	ZeroGrad([]*Tensor{w})
	if w.Grad() != nil {
		t.Error("ZeroGrad should clear the gradient")
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	a := newGradTensor(t, []int{2}, []float32{1, 2})
	b, _ := NewTensor([]int{2}, Float32, CPU, []float32{3, 4})

	y, err := MulAutograd(a, b)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	if err := y.Backward(); err == nil {
		t.Error("Backward from a non-scalar should fail")
	}
}

func TestBiasBroadcastBackward(t *testing.T) {
	x, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	bias := newGradTensor(t, []int{2}, []float32{10, 20})

	out, err := AddAutograd(x, bias)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	expected := []float32{11, 22, 13, 24}
	for i, v := range out.Data.([]float32) {
		if v != expected[i] {
			t.Errorf("Element %d: expected %f, got %f", i, expected[i], v)
		}
	}

	op := out.creator.(*AddOp)
	gradOut, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 1, 1, 1})
	grads, err := op.Backward(gradOut)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// Bias gradient sums over rows.
	biasGrad := grads[1].Data.([]float32)
	if biasGrad[0] != 2 || biasGrad[1] != 2 {
		t.Errorf("Expected bias gradient [2 2], got %v", biasGrad)
	}
}

func TestEmbeddingForwardBackward(t *testing.T) {
	weight := newGradTensor(t, []int{3, 2}, []float32{
		1, 2, // id 0
		3, 4, // id 1
		5, 6, // id 2
	})
	ids, _ := NewTensor([]int{1, 2}, Int32, CPU, []int32{2, 0})

	out, err := EmbeddingAutograd(weight, ids)
	if err != nil {
		t.Fatalf("EmbeddingAutograd failed: %v", err)
	}
	expected := []float32{5, 6, 1, 2}
	for i, v := range out.Data.([]float32) {
		if v != expected[i] {
			t.Errorf("Element %d: expected %f, got %f", i, expected[i], v)
		}
	}

	op := out.creator.(*EmbeddingOp)
	gradOut, _ := NewTensor([]int{1, 2, 2}, Float32, CPU, []float32{1, 1, 2, 2})
	grads, err := op.Backward(gradOut)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	wGrad := grads[0].Data.([]float32)
	expectedGrad := []float32{2, 2, 0, 0, 1, 1}
	for i, v := range wGrad {
		if v != expectedGrad[i] {
			t.Errorf("Weight gradient %d: expected %f, got %f", i, expectedGrad[i], v)
		}
	}

	// Out-of-range ids are rejected.
	badIDs, _ := NewTensor([]int{1, 1}, Int32, CPU, []int32{7})
	if _, err := EmbeddingAutograd(weight, badIDs); err == nil {
		t.Error("Expected error for out-of-range id")
	}
}

func TestMaskedMeanIgnoresPadding(t *testing.T) {
	// One example, three positions, one padded out.
	x, _ := NewTensor([]int{1, 3, 2}, Float32, CPU, []float32{
		1, 2,
		3, 4,
		100, 100, // padding position
	})
	mask, _ := NewTensor([]int{1, 3}, Float32, CPU, []float32{1, 1, 0})

	out, err := MaskedMeanAutograd(x, mask)
	if err != nil {
		t.Fatalf("MaskedMeanAutograd failed: %v", err)
	}
	data := out.Data.([]float32)
	if data[0] != 2 || data[1] != 3 {
		t.Errorf("Expected pooled [2 3], got %v", data)
	}
}

func TestMaskedMeanFullyPaddedRow(t *testing.T) {
	x, _ := NewTensor([]int{1, 2, 1}, Float32, CPU, []float32{5, 7})
	mask, _ := NewTensor([]int{1, 2}, Float32, CPU, []float32{0, 0})

	out, err := MaskedMeanAutograd(x, mask)
	if err != nil {
		t.Fatalf("MaskedMeanAutograd failed: %v", err)
	}
	if v := out.Data.([]float32)[0]; v != 0 {
		t.Errorf("Fully padded row should pool to 0, got %f", v)
	}
}

func TestSetGradEnabled(t *testing.T) {
	w := newGradTensor(t, []int{1}, []float32{1})
	x, _ := NewTensor([]int{1}, Float32, CPU, []float32{2})

	prev := SetGradEnabled(false)
	defer SetGradEnabled(prev)

	y, err := MulAutograd(w, x)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	if y.RequiresGrad() {
		t.Error("Output should not require grad while tracking is disabled")
	}
	if y.creator != nil {
		t.Error("Output should have no creator while tracking is disabled")
	}
}

func TestSigmoidScalar(t *testing.T) {
	if v := SigmoidScalar(0); math.Abs(v-0.5) > 1e-9 {
		t.Errorf("sigmoid(0) should be 0.5, got %f", v)
	}
	if v := SigmoidScalar(100); v <= 0.99 {
		t.Errorf("sigmoid(100) should saturate near 1, got %f", v)
	}
}
