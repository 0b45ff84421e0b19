package openai

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// newHex returns 32 hex characters of fresh randomness, the base form of
// every id the proxy mints.
func newHex() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewUsage builds a usage block keeping total = prompt + completion.
func NewUsage(prompt, completion int) *Usage {
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// NewChatCompletion wraps a complete upstream reply text in the
// non-streaming chat envelope.
func NewChatCompletion(text, model string, created int64, usage *Usage) ChatCompletion {
	return ChatCompletion{
		ID:      newHex(),
		Object:  ObjectChatCompletion,
		Created: created,
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      AssistantMessage{Role: RoleAssistant, Content: &text},
			FinishReason: FinishReasonStop,
		}},
		Usage: usage,
	}
}

// NewChatChunk wraps one streamed text delta. finishReason stays nil on
// ongoing chunks; only synthesized final chunks carry one.
func NewChatChunk(delta, model string, created int64, finishReason *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      newHex(),
		Object:  ObjectChatCompletionChunk,
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        Delta{Role: RoleAssistant, Content: &delta},
			FinishReason: finishReason,
		}},
	}
}

// NewCompletion wraps a complete upstream reply text in the legacy
// text-completion envelope.
func NewCompletion(text, model string, created int64, usage *Usage) Completion {
	return Completion{
		ID:      "cmpl-" + newHex(),
		Object:  ObjectTextCompletion,
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{{
			Text:         text,
			Index:        0,
			FinishReason: String(FinishReasonStop),
		}},
		Usage: usage,
	}
}

// NewCompletionChunk wraps one streamed legacy delta; the object tag stays
// text_completion and usage is omitted.
func NewCompletionChunk(delta, model string, created int64, finishReason *string) Completion {
	return Completion{
		ID:      "cmpl-" + newHex(),
		Object:  ObjectTextCompletion,
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{{
			Text:         delta,
			Index:        0,
			FinishReason: finishReason,
		}},
	}
}

// NewEmbeddingList converts upstream vectors into the embeddings envelope,
// indexed in input order.
func NewEmbeddingList(vectors [][]float64, model string, promptTokens int) EmbeddingList {
	data := make([]Embedding, len(vectors))
	for i, v := range vectors {
		data[i] = Embedding{Object: ObjectEmbedding, Embedding: v, Index: i}
	}
	return EmbeddingList{
		Object: ObjectList,
		Data:   data,
		Model:  model,
		Usage:  EmbeddingUsage{PromptTokens: promptTokens, TotalTokens: promptTokens},
	}
}

// NewResponse wraps a complete upstream reply text in the responses
// envelope. The response and message ids share one random suffix.
func NewResponse(text, model string, createdAt int64, usage ResponseUsage) Response {
	id := newHex()
	return Response{
		ID:        "resp_" + id,
		Object:    ObjectResponse,
		CreatedAt: createdAt,
		Status:    StatusCompleted,
		Model:     model,
		Output: []OutputMessage{{
			ID:      "msg_" + id,
			Type:    "message",
			Role:    RoleAssistant,
			Status:  StatusCompleted,
			Content: []OutputText{NewOutputText(text)},
		}},
		Usage: &usage,
	}
}
