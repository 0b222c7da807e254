package model

import (
	"fmt"
	"math"

	"github.com/tsawler/go-textclass/tensor"
)

// Loss computes a scalar training objective from logits and labels. The
// returned tensor participates in the autograd graph so Backward propagates
// through the model.
type Loss interface {
	Compute(logits, labels *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

func scalarLoss(value float64, device tensor.DeviceType) (*tensor.Tensor, error) {
	return tensor.NewTensor([]int{1}, tensor.Float32, device, []float32{float32(value)})
}

// CrossEntropyLoss implements softmax cross-entropy for single-label
// classification. With class weights set, each sample's loss is scaled by the
// weight of its true class and the batch is normalized by the weight sum.
type CrossEntropyLoss struct {
	weights []float32 // optional, one per class
}

// NewCrossEntropyLoss creates a cross-entropy loss. weights may be nil.
func NewCrossEntropyLoss(weights []float32) *CrossEntropyLoss {
	return &CrossEntropyLoss{weights: weights}
}

func (l *CrossEntropyLoss) Name() string { return "cross_entropy" }

// Compute expects logits [batch, classes] and labels Int32 [batch].
func (l *CrossEntropyLoss) Compute(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	op := &crossEntropyOp{weights: l.weights}
	return op.forward(logits, labels)
}

type crossEntropyOp struct {
	logits  *tensor.Tensor
	labels  []int32
	probs   []float32
	weights []float32
	sumW    float64
}

func (op *crossEntropyOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.logits} }

func (op *crossEntropyOp) forward(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("cross-entropy requires 2D logits, got %v", logits.Shape)
	}
	if labels.DType != tensor.Int32 || len(labels.Shape) != 1 || labels.Shape[0] != logits.Shape[0] {
		return nil, fmt.Errorf("cross-entropy requires Int32 labels [batch], got %s %v", labels.DType, labels.Shape)
	}

	batch, classes := logits.Shape[0], logits.Shape[1]
	if op.weights != nil && len(op.weights) != classes {
		return nil, fmt.Errorf("class weight count %d does not match %d classes", len(op.weights), classes)
	}

	ld := logits.Data.([]float32)
	lb := labels.Data.([]int32)

	probs := make([]float32, batch*classes)
	var total, sumW float64
	for i := 0; i < batch; i++ {
		y := int(lb[i])
		if y < 0 || y >= classes {
			return nil, fmt.Errorf("label %d out of range [0, %d)", y, classes)
		}

		// Stable softmax over the row.
		maxVal := float64(ld[i*classes])
		for j := 1; j < classes; j++ {
			if v := float64(ld[i*classes+j]); v > maxVal {
				maxVal = v
			}
		}
		var sumExp float64
		for j := 0; j < classes; j++ {
			e := math.Exp(float64(ld[i*classes+j]) - maxVal)
			probs[i*classes+j] = float32(e)
			sumExp += e
		}
		for j := 0; j < classes; j++ {
			probs[i*classes+j] = float32(float64(probs[i*classes+j]) / sumExp)
		}

		w := 1.0
		if op.weights != nil {
			w = float64(op.weights[y])
		}
		p := float64(probs[i*classes+y])
		if p < 1e-12 {
			p = 1e-12
		}
		total += -w * math.Log(p)
		sumW += w
	}
	if sumW == 0 {
		sumW = 1
	}

	result, err := scalarLoss(total/sumW, logits.Device)
	if err != nil {
		return nil, err
	}
	op.logits = logits
	op.labels = lb
	op.probs = probs
	op.sumW = sumW
	tensor.AttachOp(result, op, logits)
	return result, nil
}

func (op *crossEntropyOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale := float64(gradOut.Data.([]float32)[0]) / op.sumW
	batch := op.logits.Shape[0]
	classes := op.logits.Shape[1]

	grad := make([]float32, batch*classes)
	for i := 0; i < batch; i++ {
		y := int(op.labels[i])
		w := 1.0
		if op.weights != nil {
			w = float64(op.weights[y])
		}
		for j := 0; j < classes; j++ {
			p := float64(op.probs[i*classes+j])
			if j == y {
				p -= 1
			}
			grad[i*classes+j] = float32(scale * w * p)
		}
	}
	g, err := tensor.NewTensor(op.logits.Shape, tensor.Float32, gradOut.Device, grad)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}

// BCEWithLogitsLoss implements sigmoid binary cross-entropy for multi-label
// classification, averaged over every logit. Positive-class weights scale the
// y=1 term per label.
type BCEWithLogitsLoss struct {
	posWeights []float32 // optional, one per label
}

// NewBCEWithLogitsLoss creates a BCE loss. posWeights may be nil.
func NewBCEWithLogitsLoss(posWeights []float32) *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{posWeights: posWeights}
}

func (l *BCEWithLogitsLoss) Name() string { return "BCE" }

// Compute expects logits [batch, labels] and multi-hot Float32 labels of the
// same shape.
func (l *BCEWithLogitsLoss) Compute(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	op := &bceWithLogitsOp{posWeights: l.posWeights}
	return op.forward(logits, labels)
}

type bceWithLogitsOp struct {
	logits     *tensor.Tensor
	targets    []float32
	posWeights []float32
}

func (op *bceWithLogitsOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.logits} }

// logSigmoid computes log(σ(z)) without overflowing for large |z|.
func logSigmoid(z float64) float64 {
	if z >= 0 {
		return -math.Log1p(math.Exp(-z))
	}
	return z - math.Log1p(math.Exp(z))
}

func (op *bceWithLogitsOp) forward(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("BCE requires 2D logits, got %v", logits.Shape)
	}
	if labels.DType != tensor.Float32 || labels.NumElems != logits.NumElems {
		return nil, fmt.Errorf("BCE requires Float32 labels matching logits, got %s %v", labels.DType, labels.Shape)
	}

	batch, numLabels := logits.Shape[0], logits.Shape[1]
	if op.posWeights != nil && len(op.posWeights) != numLabels {
		return nil, fmt.Errorf("positive weight count %d does not match %d labels", len(op.posWeights), numLabels)
	}

	ld := logits.Data.([]float32)
	td := labels.Data.([]float32)

	var total float64
	for i := 0; i < batch; i++ {
		for j := 0; j < numLabels; j++ {
			z := float64(ld[i*numLabels+j])
			y := float64(td[i*numLabels+j])
			w := 1.0
			if op.posWeights != nil {
				w = float64(op.posWeights[j])
			}
			// -[w*y*log σ(z) + (1-y)*log(1-σ(z))]
			total += -(w*y*logSigmoid(z) + (1-y)*logSigmoid(-z))
		}
	}

	result, err := scalarLoss(total/float64(logits.NumElems), logits.Device)
	if err != nil {
		return nil, err
	}
	op.logits = logits
	op.targets = td
	tensor.AttachOp(result, op, logits)
	return result, nil
}

func (op *bceWithLogitsOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale := float64(gradOut.Data.([]float32)[0]) / float64(op.logits.NumElems)
	batch := op.logits.Shape[0]
	numLabels := op.logits.Shape[1]
	ld := op.logits.Data.([]float32)

	grad := make([]float32, op.logits.NumElems)
	for i := 0; i < batch; i++ {
		for j := 0; j < numLabels; j++ {
			z := float64(ld[i*numLabels+j])
			y := float64(op.targets[i*numLabels+j])
			w := 1.0
			if op.posWeights != nil {
				w = float64(op.posWeights[j])
			}
			s := tensor.SigmoidScalar(z)
			grad[i*numLabels+j] = float32(scale * (s*((1-y)+w*y) - w*y))
		}
	}
	g, err := tensor.NewTensor(op.logits.Shape, tensor.Float32, gradOut.Device, grad)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}

// ZLPRLoss implements the zero-bounded log-sum-exp pairwise rank loss for
// multi-label classification. Per sample it is
// log(1 + sum over positives of e^{-z}) + log(1 + sum over negatives of e^{z}),
// which pushes positive scores above zero and negative scores below it.
type ZLPRLoss struct{}

// NewZLPRLoss creates a ZLPR loss.
func NewZLPRLoss() *ZLPRLoss {
	return &ZLPRLoss{}
}

func (l *ZLPRLoss) Name() string { return "ZLPR" }

// Compute expects logits [batch, labels] and multi-hot Float32 labels of the
// same shape.
func (l *ZLPRLoss) Compute(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	op := &zlprOp{}
	return op.forward(logits, labels)
}

type zlprOp struct {
	logits  *tensor.Tensor
	targets []float32
	posSums []float64 // per-sample 1 + Σ_pos e^{-z}
	negSums []float64 // per-sample 1 + Σ_neg e^{z}
}

func (op *zlprOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.logits} }

func (op *zlprOp) forward(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("ZLPR requires 2D logits, got %v", logits.Shape)
	}
	if labels.DType != tensor.Float32 || labels.NumElems != logits.NumElems {
		return nil, fmt.Errorf("ZLPR requires Float32 labels matching logits, got %s %v", labels.DType, labels.Shape)
	}

	batch, numLabels := logits.Shape[0], logits.Shape[1]
	ld := logits.Data.([]float32)
	td := labels.Data.([]float32)

	posSums := make([]float64, batch)
	negSums := make([]float64, batch)
	var total float64
	for i := 0; i < batch; i++ {
		pos, neg := 1.0, 1.0
		for j := 0; j < numLabels; j++ {
			z := float64(ld[i*numLabels+j])
			if td[i*numLabels+j] > 0 {
				pos += math.Exp(-z)
			} else {
				neg += math.Exp(z)
			}
		}
		posSums[i] = pos
		negSums[i] = neg
		total += math.Log(pos) + math.Log(neg)
	}

	result, err := scalarLoss(total/float64(batch), logits.Device)
	if err != nil {
		return nil, err
	}
	op.logits = logits
	op.targets = td
	op.posSums = posSums
	op.negSums = negSums
	tensor.AttachOp(result, op, logits)
	return result, nil
}

func (op *zlprOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	batch := op.logits.Shape[0]
	numLabels := op.logits.Shape[1]
	scale := float64(gradOut.Data.([]float32)[0]) / float64(batch)
	ld := op.logits.Data.([]float32)

	grad := make([]float32, op.logits.NumElems)
	for i := 0; i < batch; i++ {
		for j := 0; j < numLabels; j++ {
			z := float64(ld[i*numLabels+j])
			if op.targets[i*numLabels+j] > 0 {
				grad[i*numLabels+j] = float32(scale * -math.Exp(-z) / op.posSums[i])
			} else {
				grad[i*numLabels+j] = float32(scale * math.Exp(z) / op.negSums[i])
			}
		}
	}
	g, err := tensor.NewTensor(op.logits.Shape, tensor.Float32, gradOut.Device, grad)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}
