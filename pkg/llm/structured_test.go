package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient returns scripted responses in order.
type stubClient struct {
	responses []string
	errs      []error
	calls     int
	lastReq   Request
}

func (s *stubClient) Complete(_ context.Context, req Request) (string, error) {
	s.lastReq = req
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (s *stubClient) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not scripted")
}

type routeStub struct {
	Action string `json:"action" validate:"required,oneof=search answer"`
	TopK   int    `json:"top_k" validate:"min=1"`
}

func fastBackoff(t *testing.T) {
	t.Helper()
	old := jsonBackoff
	jsonBackoff = []time.Duration{time.Millisecond}
	t.Cleanup(func() { jsonBackoff = old })
}

func TestCompleteJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("parses fenced response", func(t *testing.T) {
		stub := &stubClient{responses: []string{"```json\n{\"action\":\"search\",\"top_k\":5}\n```"}}

		var out routeStub
		require.NoError(t, CompleteJSON(ctx, stub, Request{User: "route"}, 3, &out))
		assert.Equal(t, "search", out.Action)
		assert.Equal(t, 5, out.TopK)
		assert.Equal(t, 1, stub.calls)
		assert.True(t, stub.lastReq.JSONOnly)
	})

	t.Run("retries malformed JSON then succeeds", func(t *testing.T) {
		fastBackoff(t)
		stub := &stubClient{responses: []string{
			"the plan is to search first",
			"{\"action\":\"search\",\"top_k\":3}",
		}}

		var out routeStub
		require.NoError(t, CompleteJSON(ctx, stub, Request{User: "route"}, 3, &out))
		assert.Equal(t, 2, stub.calls)
	})

	t.Run("schema violation counts as parse failure", func(t *testing.T) {
		fastBackoff(t)
		stub := &stubClient{responses: []string{
			"{\"action\":\"fly\",\"top_k\":3}",
			"{\"action\":\"answer\",\"top_k\":1}",
		}}

		var out routeStub
		require.NoError(t, CompleteJSON(ctx, stub, Request{User: "route"}, 3, &out))
		assert.Equal(t, 2, stub.calls)
		assert.Equal(t, "answer", out.Action)
	})

	t.Run("transport errors retried", func(t *testing.T) {
		fastBackoff(t)
		stub := &stubClient{
			errs:      []error{errors.New("gateway 502"), nil},
			responses: []string{"", "{\"action\":\"search\",\"top_k\":2}"},
		}

		var out routeStub
		require.NoError(t, CompleteJSON(ctx, stub, Request{User: "route"}, 3, &out))
		assert.Equal(t, 2, stub.calls)
	})

	t.Run("exhausted retries surface the contract error", func(t *testing.T) {
		fastBackoff(t)
		stub := &stubClient{responses: []string{"nope", "nope", "nope", "nope"}}

		var out routeStub
		err := CompleteJSON(ctx, stub, Request{User: "route"}, 3, &out)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrJSONContract)
		assert.Equal(t, 4, stub.calls)
	})

	t.Run("zero retries means single attempt", func(t *testing.T) {
		stub := &stubClient{responses: []string{"nope"}}

		var out routeStub
		err := CompleteJSON(ctx, stub, Request{User: "route"}, 0, &out)
		assert.ErrorIs(t, err, ErrJSONContract)
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("cancelled context stops the backoff wait", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		stub := &stubClient{responses: []string{"nope", "nope"}}

		var out routeStub
		err := CompleteJSON(cancelled, stub, Request{User: "route"}, 3, &out)
		assert.ErrorIs(t, err, ErrJSONContract)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, stub.calls)
	})
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fence with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence uppercase language", "```JSON\n{\"a\":1}\n```", `{"a":1}`},
		{"fence without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
		{"empty", "", ""},
		{"only fences", "```\n```", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripFences(tt.input))
		})
	}
}
