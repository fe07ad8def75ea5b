//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a sentence-embedding model locally with ONNX Runtime.
// It requires CGO and the onnxruntime shared library. Inference is serialized
// because the input and output tensors are shared between calls.
type ONNXEmbedder struct {
	session             *ort.AdvancedSession
	modelName           string
	dimensions          int
	maxTokens           int
	tokenizer           Tokenizer
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder loads the model at cfg.ModelPath. InitializeEnvironment is called if not already done.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "onnx"
	}
	shape := ort.NewShape(1, int64(cfg.MaxTokens))

	var tensors []interface{ Destroy() error }
	cleanup := func() {
		for _, t := range tensors {
			_ = t.Destroy()
		}
	}
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	tensors = append(tensors, inputIDs)
	attentionMask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	tensors = append(tensors, attentionMask)
	tokenTypeIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	tensors = append(tensors, tokenTypeIDs)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	tensors = append(tensors, output)

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:             session,
		modelName:           cfg.ModelName,
		dimensions:          cfg.Dimensions,
		maxTokens:           cfg.MaxTokens,
		tokenizer:           HashTokenizer{},
		inputIDsTensor:      inputIDs,
		attentionMaskTensor: attentionMask,
		tokenTypeIDsTensor:  tokenTypeIDs,
		outputTensor:        output,
	}, nil
}

// Embed runs one inference and returns the unit-normalized output.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)
	return embedding, nil
}

// EmbedBatch embeds texts one at a time, stopping at the first failure or cancellation.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the configured model identifier.
func (e *ONNXEmbedder) ModelName() string {
	return e.modelName
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	for _, t := range []interface{ Destroy() error }{
		e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor, e.outputTensor,
	} {
		_ = t.Destroy()
	}
	return err
}
