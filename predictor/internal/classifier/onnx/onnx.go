// Package onnx регистрирует тип модели "onnx": граф, экспортированный из
// обучающего пайплайна, исполняется через onnxruntime.
package onnx

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/classifier"
)

const TypeONNX = "onnx"

var (
	envOnce     sync.Once
	envErr      error
	libraryPath string
)

func init() {
	classifier.Register(TypeONNX, newModel)
}

// SetLibraryPath задает путь к libonnxruntime. Вызывать до загрузки моделей.
func SetLibraryPath(path string) {
	libraryPath = path
}

func initEnvironment() error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return envErr
}

// Shutdown освобождает окружение onnxruntime при завершении процесса
func Shutdown() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

type params struct {
	Path       string `json:"onnx_path"`
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
}

// Model держит одну сессию и пару тензоров на модель; сессия не потокобезопасна,
// поэтому модель требует эксклюзивного доступа.
type Model struct {
	classes      []float64
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newModel(spec classifier.Spec) (classifier.Classifier, error) {
	var p params
	if err := json.Unmarshal(spec.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrInvalidArtifact, err)
	}
	if p.Path == "" {
		return nil, fmt.Errorf("%w: onnx_path is required", classifier.ErrInvalidArtifact)
	}
	if p.InputName == "" {
		p.InputName = "input"
	}
	if p.OutputName == "" {
		p.OutputName = "probabilities"
	}

	modelPath := p.Path
	if !filepath.IsAbs(modelPath) {
		modelPath = filepath.Join(spec.BaseDir, modelPath)
	}

	if err := initEnvironment(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(spec.NumFeatures)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(spec.Classes))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{p.InputName}, []string{p.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Model{
		classes:      spec.Classes,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (m *Model) run(x []float64) ([]float64, error) {
	input := m.inputTensor.GetData()
	for i, v := range x {
		input[i] = float32(v)
	}

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	output := m.outputTensor.GetData()
	proba := make([]float64, len(output))
	for i, v := range output {
		proba[i] = float64(v)
	}
	return proba, nil
}

func (m *Model) Predict(x []float64) (float64, error) {
	proba, err := m.run(x)
	if err != nil {
		return 0, err
	}

	best := 0
	for i := range proba {
		if proba[i] > proba[best] {
			best = i
		}
	}
	return m.classes[best], nil
}

func (m *Model) PredictProba(x []float64) ([]float64, error) {
	return m.run(x)
}

func (m *Model) Classes() []float64 {
	return m.classes
}

func (m *Model) RequiresExclusiveAccess() bool {
	return true
}

func (m *Model) Close() error {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}
