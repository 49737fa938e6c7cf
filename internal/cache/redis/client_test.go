package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to the server named by IMMIGRATION_RAG_TEST_REDIS
// (host:port) and uses DB 15.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("IMMIGRATION_RAG_TEST_REDIS")
	if addr == "" {
		t.Skip("IMMIGRATION_RAG_TEST_REDIS not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewClient(host, port, "", 15)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_QueryRoundTripAndInvalidate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	type payload struct{ Entity string }
	require.NoError(t, c.SetQuery(ctx, "insights:I-130", payload{Entity: "I-130"}, time.Minute))
	require.NoError(t, c.SetEmbedding(ctx, "abc", []float32{0.5, 1}, time.Minute))

	var got payload
	found, err := c.GetQuery(ctx, "insights:I-130", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "I-130", got.Entity)

	require.NoError(t, c.InvalidateQueries(ctx))

	found, err = c.GetQuery(ctx, "insights:I-130", &got)
	require.NoError(t, err)
	assert.False(t, found)

	vec, found, err := c.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []float32{0.5, 1}, vec)
}

func TestClient_Miss(t *testing.T) {
	c := newTestClient(t)

	_, found, err := c.GetEmbedding(context.Background(), "missing-hash")
	require.NoError(t, err)
	assert.False(t, found)
}
