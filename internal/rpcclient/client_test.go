package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newTestEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func jsonRPCServer(t *testing.T, handle func(method string, params json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handle(req.Method, req.Params)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			resp.Result = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClientBlockNumber(t *testing.T) {
	srv := jsonRPCServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "eth_blockNumber", method)
		return "0x2a", nil
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL, [20]byte{1}, newTestEntry())
	require.NoError(t, err)
	defer c.Close()

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)
}

func TestClientCall(t *testing.T) {
	srv := jsonRPCServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "eth_call", method)
		return "0x0102", nil
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL, [20]byte{1}, newTestEntry())
	require.NoError(t, err)
	defer c.Close()

	b, err := c.Call(context.Background(), []byte{0xAA})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, b)
}

func TestClientGetLogsTopicFilterSucceeds(t *testing.T) {
	called := map[string]int{}
	srv := jsonRPCServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		called[method]++
		var args []map[string]interface{}
		require.NoError(t, json.Unmarshal(params, &args))
		_, hasTopics := args[0]["topics"]
		require.True(t, hasTopics, "expected topic-filtered request first")
		return []map[string]interface{}{
			{"blockNumber": "0x1", "logIndex": "0x0", "transactionHash": "0x" + hex32(), "data": "0x", "topics": []string{"0x85f2cb2e"}},
		}, nil
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL, [20]byte{1}, newTestEntry())
	require.NoError(t, err)
	defer c.Close()

	logs, err := c.GetLogs(context.Background(), [4]byte{0x85, 0xf2, 0xcb, 0x2e}, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 1, called["eth_getLogs"])
}

func hex32() string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = '0'
	}
	return string(out)
}

func TestClientGetLogsFallsBackOnEmptyResult(t *testing.T) {
	calls := 0
	srv := jsonRPCServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		calls++
		var args []map[string]interface{}
		require.NoError(t, json.Unmarshal(params, &args))
		if _, hasTopics := args[0]["topics"]; hasTopics {
			return []map[string]interface{}{}, nil // endpoint silently ignores/ empties out
		}
		return []map[string]interface{}{
			{"blockNumber": "0x1", "logIndex": "0x0", "transactionHash": "0x" + hex32(), "data": "0x",
				"topics": []string{"0x85f2cb2e00000000000000000000000000000000000000000000000000000000"}},
		}, nil
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL, [20]byte{1}, newTestEntry())
	require.NoError(t, err)
	defer c.Close()

	logs, err := c.GetLogs(context.Background(), [4]byte{0x85, 0xf2, 0xcb, 0x2e}, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 2, calls, "expected a topic-filtered attempt then an address-only fallback")
}

func TestClientGetLogsFallsBackOnError(t *testing.T) {
	srv := jsonRPCServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		var args []map[string]interface{}
		require.NoError(t, json.Unmarshal(params, &args))
		if _, hasTopics := args[0]["topics"]; hasTopics {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		return []map[string]interface{}{
			{"blockNumber": "0x2", "logIndex": "0x1", "transactionHash": "0x" + hex32(), "data": "0x",
				"topics": []string{"0x85f2cb2e00000000000000000000000000000000000000000000000000000000"}},
		}, nil
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL, [20]byte{1}, newTestEntry())
	require.NoError(t, err)
	defer c.Close()

	logs, err := c.GetLogs(context.Background(), [4]byte{0x85, 0xf2, 0xcb, 0x2e}, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
