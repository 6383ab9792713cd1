package participant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/prompts"
	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/structured"
	"github.com/kingrea/deliberate/internal/voting"
)

func compile(t *testing.T, kind string, payload schema.Document) *schema.Validator {
	t.Helper()
	doc, err := schema.Wrap(kind, payload)
	require.NoError(t, err)
	v, err := schema.Compile(doc)
	require.NoError(t, err)
	return v
}

func TestGeneratorProducesRankingPermutation(t *testing.T) {
	doc, err := voting.NewRankingCompare(prompts.Default()).VoteSchema(4)
	require.NoError(t, err)
	v, err := schema.Compile(doc)
	require.NoError(t, err)

	g := NewGenerator(7, 0)
	for i := 0; i < 20; i++ {
		out, err := g.Generate(doc)
		require.NoError(t, err)
		normalized, err := v.Normalize(out)
		require.NoError(t, err)
		ranks := normalized.(map[string]any)["vote"].([]any)
		got := make([]int, len(ranks))
		for j, r := range ranks {
			got[j] = int(r.(float64))
		}
		sort.Ints(got)
		require.Equal(t, []int{1, 2, 3, 4}, got)
	}
}

func TestGeneratorMatchesVotingSchemas(t *testing.T) {
	cat := prompts.Default()
	enum, err := voting.NewEnumLabel([]string{"red", "green"}, cat)
	require.NoError(t, err)
	score, err := voting.NewScoreLabel(1, 9, 2, cat)
	require.NoError(t, err)
	compare, err := voting.NewScoreCompare(0, 10, 0, cat)
	require.NoError(t, err)

	docs := map[string]func() (schema.Document, error){
		"enum":          enum.VoteSchema,
		"yesno":         voting.NewYesNoLabel(cat).VoteSchema,
		"score":         score.VoteSchema,
		"score compare": func() (schema.Document, error) { return compare.VoteSchema(3) },
	}
	g := NewGenerator(42, 0)
	for name, build := range docs {
		t.Run(name, func(t *testing.T) {
			doc, err := build()
			require.NoError(t, err)
			v, err := schema.Compile(doc)
			require.NoError(t, err)
			for i := 0; i < 10; i++ {
				out, err := g.Generate(doc)
				require.NoError(t, err)
				require.NoError(t, v.Validate(out))
			}
		})
	}
}

func TestGeneratorIsDeterministicPerSeed(t *testing.T) {
	doc, err := schema.Wrap(schema.KindSubmission, schema.Document{
		"type": "object",
		"properties": map[string]any{
			"move":   map[string]any{"type": "string", "minLength": 2, "maxLength": 4},
			"pieces": map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 0, "maximum": 3}},
			"check":  map[string]any{"type": "boolean"},
		},
		"required": []any{"move", "pieces", "check"},
	})
	require.NoError(t, err)
	v, err := schema.Compile(doc)
	require.NoError(t, err)

	a, err := NewGenerator(99, 0).Generate(doc)
	require.NoError(t, err)
	b, err := NewGenerator(99, 0).Generate(doc)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NoError(t, v.Validate(a))
}

func TestRandomAgentSubmitsAndVotes(t *testing.T) {
	agent := NewRandom(model.Descriptor{Name: "rnd"}, 1)
	require.NotEmpty(t, agent.Describe().ID)
	require.Equal(t, TypeRandom, agent.Describe().Type)

	brief := model.TopicBrief{
		ID:     "topic-1",
		Title:  "Pick a colour",
		Schema: compile(t, schema.KindSubmission, schema.Document{"type": "string", "enum": []any{"red", "blue"}}),
	}
	sub, err := agent.CreateSubmission(context.Background(), brief)
	require.NoError(t, err)
	require.Equal(t, "topic-1", sub.TopicID)
	require.Equal(t, agent.Describe().ID, sub.ParticipantID)
	require.Contains(t, []any{"red", "blue"}, sub.Content)

	voteSchema := compile(t, schema.KindVote, schema.Document{"type": "string", "enum": []any{"yes", "no"}})
	vote, err := agent.LabelVote(context.Background(), *sub, model.VoteRequest{Prompt: "judge", Schema: voteSchema})
	require.NoError(t, err)
	require.NoError(t, voteSchema.Validate(vote))
}

func TestAgentAppliesTopicChecks(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	replies := []any{`{"submission": "e5"}`, "```json\n{\"submission\": \"e4\"}\n```"}
	responder := structured.ResponderFunc(func(_ context.Context, prompt string, _ schema.Document) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, prompt)
		return replies[len(sent)-1], nil
	})
	agent := NewAgent(model.Descriptor{Name: "scripted", RoleDescription: "You play white."}, responder)
	legal := structured.Within(schema.KindSubmission, structured.Check{
		Message: "That move is not legal.",
		Pass:    func(v any) bool { return v == "e4" },
	})
	sub, err := agent.CreateSubmission(context.Background(), model.TopicBrief{
		Title:  "Opening move",
		Schema: compile(t, schema.KindSubmission, schema.Document{"type": "string"}),
		Checks: []structured.Check{legal},
	})
	require.NoError(t, err)
	require.Equal(t, "e4", sub.Content)
	require.Len(t, sent, 2)
	require.Contains(t, sent[0], "You play white.")
	require.Contains(t, sent[0], "Opening move")
	require.Contains(t, sent[0], `"submission"`)
	require.True(t, strings.HasPrefix(sent[1], "That move is not legal.\n"))
}

func TestNoisyAgentExhaustsAttempts(t *testing.T) {
	agent := NewAgent(model.Descriptor{Name: "noisy"}, NewGenerator(3, 1), WithMaxAttempts(2))
	_, err := agent.CompareVote(context.Background(), nil, model.VoteRequest{
		Prompt: "rank",
		Schema: compile(t, schema.KindVote, schema.Document{"type": "integer"}),
	})
	require.ErrorIs(t, err, structured.ErrExhausted)
}

func TestAgentRequiresSchema(t *testing.T) {
	agent := NewRandom(model.Descriptor{Name: "rnd"}, 1)
	_, err := agent.LabelVote(context.Background(), model.Submission{}, model.VoteRequest{Prompt: "x"})
	require.Error(t, err)
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, reply string, seen chan<- chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		_ = json.Unmarshal(body, &req)
		if seen != nil {
			seen <- req
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1730000000,
			"model":   req.Model,
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLLMAgentExtractsJSONFromReply(t *testing.T) {
	seen := make(chan chatRequest, 4)
	srv := chatServer(t, "Sure!\n```json\n{\"vote\": \"yes\"}\n```", seen)

	temp := 0.2
	registry := Builtins()
	p, err := registry.Resolve(config.ParticipantConfig{Type: "LLM", Name: "gpt", Model: "gpt-test", Temperature: &temp}, Deps{
		OpenAI: config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"},
	})
	require.NoError(t, err)
	require.Equal(t, TypeLLM, p.Describe().Type)
	require.Equal(t, "gpt-test", p.Describe().Model)

	voteSchema := compile(t, schema.KindVote, schema.Document{"type": "string", "enum": []any{"yes", "no"}})
	vote, err := p.LabelVote(context.Background(), model.Submission{}, model.VoteRequest{Prompt: "Is it good?", Schema: voteSchema})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"vote": "yes"}, vote)

	req := <-seen
	require.Equal(t, "gpt-test", req.Model)
	require.InDelta(t, 0.2, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Contains(t, req.Messages[1].Content, "Is it good?")
}

func TestRegistry(t *testing.T) {
	registry := Builtins()
	require.Equal(t, []string{TypeLLM, TypeRandom}, registry.Types())
	require.Error(t, registry.Register("random", randomFactory))

	_, err := registry.Resolve(config.ParticipantConfig{Type: "human", Name: "bob"}, Deps{})
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	_, err = registry.Resolve(config.ParticipantConfig{Type: "llm", Name: "gpt", Model: "m"}, Deps{})
	require.True(t, errors.As(err, &cfgErr))

	seed := int64(5)
	a, err := registry.Resolve(config.ParticipantConfig{Type: "random", Name: "a", Seed: &seed}, Deps{})
	require.NoError(t, err)
	require.Equal(t, "a", a.Describe().Name)
}
