// Package checkpoints saves and restores model weights plus the
// configuration snapshot needed to reload them for evaluation or inference.
package checkpoints

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-textclass/model"
)

// WeightTensor represents a single weight tensor with metadata
type WeightTensor struct {
	Name  string    // Parameter path, e.g. "encoder.embedding.weight"
	Shape []int     // Tensor dimensions
	Data  []float32 // Flattened tensor data
	Layer string    // Layer the parameter belongs to
	Type  string    // "weight" or "bias"
}

// Checkpoint is the on-disk weight bundle for one saved epoch.
type Checkpoint struct {
	Weights []WeightTensor
}

// WeightFileName builds the canonical checkpoint file name for an epoch and
// its dev macro-F1, e.g. "epoch_2_dev_f1_87.5_weights.bin".
func WeightFileName(epoch int, devF1 float64) string {
	return fmt.Sprintf("epoch_%d_dev_f1_%.1f_weights.bin", epoch, 100*devF1)
}

// ExtractWeights copies the model's named parameters into checkpoint form.
func ExtractWeights(named []model.NamedParameter) ([]WeightTensor, error) {
	weights := make([]WeightTensor, 0, len(named))
	for _, np := range named {
		data, err := np.Tensor.GetFloat32Data()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to extract parameter %s", np.Name)
		}
		copied := make([]float32, len(data))
		copy(copied, data)

		shape := make([]int, len(np.Tensor.Shape))
		copy(shape, np.Tensor.Shape)

		weights = append(weights, WeightTensor{
			Name:  np.Name,
			Shape: shape,
			Data:  copied,
			Layer: parameterLayer(np.Name),
			Type:  parameterType(np.Name),
		})
	}
	return weights, nil
}

func parameterLayer(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

func parameterType(name string) string {
	if strings.HasSuffix(name, ".bias") {
		return "bias"
	}
	return "weight"
}

// SaveWeights writes the model's parameters to path in gob format.
func SaveWeights(path string, named []model.NamedParameter) error {
	weights, err := ExtractWeights(named)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint %s", path)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(&Checkpoint{Weights: weights}); err != nil {
		return errors.Wrapf(err, "failed to encode checkpoint %s", path)
	}
	return nil
}

// LoadWeights reads a gob checkpoint from path.
func LoadWeights(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %s", path)
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return &ckpt, nil
}

// LoadWeightsInto copies checkpoint weights into the model's named
// parameters, matching by name. Every model parameter must be present in the
// checkpoint with the same element count.
func LoadWeightsInto(ckpt *Checkpoint, named []model.NamedParameter) error {
	byName := make(map[string]*WeightTensor, len(ckpt.Weights))
	for i := range ckpt.Weights {
		byName[ckpt.Weights[i].Name] = &ckpt.Weights[i]
	}

	for _, np := range named {
		w, ok := byName[np.Name]
		if !ok {
			return errors.Errorf("checkpoint is missing parameter %s", np.Name)
		}
		if len(w.Data) != np.Tensor.NumElems {
			return errors.Errorf("parameter %s has %d elements, checkpoint has %d",
				np.Name, np.Tensor.NumElems, len(w.Data))
		}
		dst, err := np.Tensor.GetFloat32Data()
		if err != nil {
			return errors.Wrapf(err, "failed to load parameter %s", np.Name)
		}
		copy(dst, w.Data)
	}
	return nil
}

// SaveConfigSnapshot writes the configuration snapshot as indented JSON next
// to the checkpoints so saved weights can be reloaded without the original
// command line.
func SaveConfigSnapshot(dir string, snapshot map[string]interface{}) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config snapshot")
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// ListWeightFiles returns the checkpoint file names in dir, sorted.
func ListWeightFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint directory %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), "_weights.bin") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
