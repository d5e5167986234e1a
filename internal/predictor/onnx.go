package predictor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"ml-crypto-trader/internal/types"
)

// ErrTrainingUnsupported is returned by Sequence.Train: the ONNX model
// is trained offline and only served here.
var ErrTrainingUnsupported = errors.New("sequence model is trained offline")

// seqLen is the number of recent bars the sequence model consumes.
const seqLen = 60

var ortInitOnce sync.Once

func initORT() error {
	var err error
	ortInitOnce.Do(func() {
		libPath := "/usr/lib/libonnxruntime.so"
		switch runtime.GOOS {
		case "windows":
			libPath = "onnxruntime.dll"
		case "darwin":
			libPath = "libonnxruntime.dylib"
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// Sequence serves an offline-trained ONNX sequence classifier. The
// model takes the last seqLen feature vectors and emits class
// probabilities for sell, hold and buy.
type Sequence struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	window []types.Bar
}

func NewSequence(modelPath string) (*Sequence, error) {
	if err := initORT(); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, seqLen, numFeatures), make([]float32, seqLen*numFeatures))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Sequence{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
	}, nil
}

// Train always fails with ErrTrainingUnsupported; callers treat the
// source as degraded and combine without it.
func (s *Sequence) Train(ctx context.Context, bars []types.Bar) error {
	// The most recent bars still seed the inference window.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = s.window[:0]
	for _, bar := range bars {
		if usableBar(bar) {
			s.window = append(s.window, bar)
		}
	}
	if len(s.window) > seqLen {
		s.window = s.window[len(s.window)-seqLen:]
	}
	return ErrTrainingUnsupported
}

// Predict appends the bar to the rolling window and runs inference once
// the window is full.
func (s *Sequence) Predict(ctx context.Context, bar types.Bar) (types.Prediction, error) {
	if !usableBar(bar) {
		return types.Prediction{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, bar)
	if len(s.window) > seqLen {
		s.window = s.window[1:]
	}
	if len(s.window) < seqLen {
		return types.Prediction{}, nil
	}

	data := s.input.GetData()
	for i, b := range s.window {
		fv := featureVector(b)
		for j, v := range fv {
			data[i*numFeatures+j] = float32(v)
		}
	}
	if err := s.session.Run(); err != nil {
		return types.Prediction{}, fmt.Errorf("inference failed: %w", err)
	}

	probs := s.output.GetData()
	best := 0
	for i := 1; i < 3; i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return types.Prediction{
		Signal:     best - 1, // class order: sell, hold, buy
		Confidence: float64(probs[best]),
	}, nil
}

func (s *Sequence) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
}
