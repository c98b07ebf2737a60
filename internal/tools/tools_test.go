package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryExecuteKnownTool(t *testing.T) {
	t.Parallel()
	r := NewRegistry(&Spec{
		Name: "get_weather",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`),
		Executor: ExecutorFunc(func(_ context.Context, _ Context, args json.RawMessage) (any, error) {
			var in struct{ City string `json:"city"` }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return map[string]any{"temperature": 25, "city": in.City}, nil
		}),
	})

	spec, ok := r.Lookup("get_weather")
	require.True(t, ok)
	require.NoError(t, spec.Validate(json.RawMessage(`{"city":"Tokyo"}`)))
	require.Error(t, spec.Validate(json.RawMessage(`{}`)))

	out, err := r.Execute(context.Background(), Context{}, "get_weather", json.RawMessage(`{"city":"Tokyo"}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"temperature": 25, "city": "Tokyo"}, out)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Execute(context.Background(), Context{}, "nope", json.RawMessage(`{}`))
	require.ErrorAs(t, err, &ErrNotRegistered{})
}

func TestRegistryExecuteRequiresApproval(t *testing.T) {
	t.Parallel()
	r := NewRegistry(&Spec{Name: "send_email", RequiresApproval: true})
	_, err := r.Execute(context.Background(), Context{}, "send_email", json.RawMessage(`{}`))
	require.ErrorAs(t, err, &ErrRequiresApproval{})
}
