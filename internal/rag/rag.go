package rag

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"regulation-rag/internal/config"
	"regulation-rag/internal/models"
)

var greeting = regexp.MustCompile(models.GreetingRegex)

// IsGreeting reports whether message opens with a salutation
func IsGreeting(message string) bool {
	return greeting.MatchString(message)
}

type RAG struct {
	retriever  *Retriever
	generator  *AnswerGenerator
	attributor *SourceAttributor
	messages   config.MessagesConfig
	topK       int
	minScore   float32
}

func NewRAG(rt *Runtime, embedder embeddings.Embedder, completer Completer, cfg *config.Config) *RAG {
	return &RAG{
		retriever:  NewRetriever(rt, embedder),
		generator:  NewAnswerGenerator(completer, cfg.Messages, cfg.RAG.HistoryTurns, cfg.RAG.MaxItems),
		attributor: NewSourceAttributor(cfg.Documents.Root, cfg.Documents.URLPrefix),
		messages:   cfg.Messages,
		topK:       cfg.RAG.TopK,
		minScore:   cfg.RAG.MinScore,
	}
}

// Query answers one message. Empty messages, greetings, empty retrievals and
// off-domain questions all get a canned reply with no sources; only
// collaborator failures return an error.
func (r *RAG) Query(ctx context.Context, message string, history []models.Turn) (*models.Response, error) {
	question := strings.TrimSpace(message)
	if question == "" {
		return models.NewResponse(r.messages.EmptyQuestion, nil), nil
	}
	if IsGreeting(question) {
		log.Debug().Msg("Greeting detected, skipping retrieval")
		return models.NewResponse(r.messages.Greeting, nil), nil
	}

	hits, err := r.retriever.Search(ctx, question, r.topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		log.Info().Msg("No chunks retrieved")
		return models.NewResponse(r.messages.NoInformation, nil), nil
	}
	if !IsInDomain(hits, r.minScore) {
		log.Info().Float32("score", hits[0].Score).Float32("min_score", r.minScore).Msg("Question is out of domain")
		return models.NewResponse(r.messages.Refusal, nil), nil
	}

	answer, err := r.generator.Answer(ctx, question, AssembleContext(hits), history)
	if err != nil {
		return nil, err
	}

	sources := r.attributor.Attribute(hits)
	log.Info().Int("hits", len(hits)).Float32("top_score", hits[0].Score).Int("sources", len(sources)).Msg("Answered question")
	return models.NewResponse(answer, sources), nil
}
