package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAsync_ServesVars(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	Publish("test_snapshot", func() any { return map[string]int{"a": 1} })
	Publish("test_snapshot", func() any { return map[string]int{"a": 2} })
	OrdersCreated.Add(1)

	s, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var vars map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &vars))
	assert.JSONEq(t, `{"a":2}`, string(vars["test_snapshot"]))
	assert.Contains(t, vars, "orders_created")
	assert.Contains(t, vars, "relay_frames_dropped")
}
