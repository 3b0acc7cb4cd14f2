package toolserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/internal/testutil"
	"github.com/hupe1980/gitscout/retry"
	"github.com/hupe1980/gitscout/toolserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newSession(t *testing.T, tr toolserver.Transport, optFns ...func(o *toolserver.SessionOptions)) *toolserver.Session {
	t.Helper()
	fns := append([]func(o *toolserver.SessionOptions){func(o *toolserver.SessionOptions) {
		o.Endpoint = "scripted"
		o.ConnectPolicy = fastPolicy(3)
		o.CallTimeout = time.Second
	}}, optFns...)
	return toolserver.NewSession(tr, fns...)
}

func newSessionConnected(t *testing.T, tr toolserver.Transport) *toolserver.Session {
	t.Helper()
	sess := newSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))
	return sess
}

func invocationFor(tool string) core.InvocationRequest {
	return core.InvocationRequest{ID: "call-1", Tool: tool}
}

func TestSessionConnect(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...)
	sess := newSession(t, tr)

	require.NoError(t, sess.Connect(context.Background()))
	assert.Equal(t, toolserver.StatusReady, sess.Status())
	assert.Equal(t, uint64(1), sess.Epoch())
	assert.Len(t, sess.Descriptors(), 2)
}

func TestSessionConnectRetriesWithBackoff(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).FailConnects(2)
	sess := newSession(t, tr)

	require.NoError(t, sess.Connect(context.Background()))
	assert.Equal(t, 3, tr.Connects())
	assert.Equal(t, toolserver.StatusReady, sess.Status())
}

func TestSessionConnectExhaustsAttemptCap(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).FailConnects(10)
	sess := newSession(t, tr)

	err := sess.Connect(context.Background())
	require.Error(t, err)

	var connErr *core.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, "scripted", connErr.Endpoint)
	assert.Equal(t, toolserver.StatusFailed, sess.Status())
}

func TestSessionRejectsNewerServerVersion(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).ServeVersion(toolserver.ProtocolVersion + 1)
	sess := newSession(t, tr)

	err := sess.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol version")
}

func TestSessionInvoke(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("search_code", func(args json.RawMessage, _ map[string]string) (any, error) {
			return map[string]any{"hits": 3}, nil
		})
	sess := newSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))

	res, err := sess.Invoke(context.Background(), core.InvocationRequest{
		ID:        "call-1",
		Tool:      "search_code",
		Arguments: json.RawMessage(`{"query":"scanner"}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.InvocationOK, res.Status)
	assert.JSONEq(t, `{"hits":3}`, string(res.Result))
	assert.Empty(t, res.TransientError)
}

func TestSessionInvokePassesCredentials(t *testing.T) {
	var seen map[string]string
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("search_code", func(_ json.RawMessage, creds map[string]string) (any, error) {
			seen = creds
			return "ok", nil
		})
	sess := newSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))

	creds := core.NewCredentialContext(map[string]string{"github_token": "ghp_secret"})
	_, err := sess.Invoke(context.Background(), core.InvocationRequest{ID: "call-1", Tool: "search_code"}, creds)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", seen["github_token"])
}

func TestSessionInvokeToolErrorIsNotFatal(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("search_code", func(json.RawMessage, map[string]string) (any, error) {
			return nil, errors.New("index unavailable")
		})
	sess := newSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))

	res, err := sess.Invoke(context.Background(), core.InvocationRequest{ID: "call-1", Tool: "search_code"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.InvocationError, res.Status)
	assert.Contains(t, res.Error, "index unavailable")
	assert.Equal(t, toolserver.StatusReady, sess.Status())
}

func TestSessionInvokeRetriesOnceAfterTransportFailure(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("search_code", func(json.RawMessage, map[string]string) (any, error) {
			return "recovered", nil
		})
	sess := newSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))
	require.Equal(t, uint64(1), sess.Epoch())

	tr.FailCalls(1)

	res, err := sess.Invoke(context.Background(), core.InvocationRequest{ID: "call-1", Tool: "search_code"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.InvocationOK, res.Status)
	assert.Empty(t, res.TransientError, "hidden by default")

	// The transparent retry reconnected: new epoch, fresh handshake.
	assert.Equal(t, uint64(2), sess.Epoch())
	assert.Equal(t, 2, tr.Calls(toolserver.MethodHandshake))
}

func TestSessionInvokeSurfacesTransientErrorWhenConfigured(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("search_code", func(json.RawMessage, map[string]string) (any, error) {
			return "recovered", nil
		})
	sess := newSession(t, tr, func(o *toolserver.SessionOptions) {
		o.SurfaceTransientToolErrors = true
	})
	require.NoError(t, sess.Connect(context.Background()))

	tr.FailCalls(1)

	res, err := sess.Invoke(context.Background(), core.InvocationRequest{ID: "call-1", Tool: "search_code"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.InvocationOK, res.Status)
	assert.Contains(t, res.TransientError, "injected transport failure")
}

func TestSessionInvokeGivesUpWhenReconnectFails(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...)
	sess := newSession(t, tr, func(o *toolserver.SessionOptions) {
		o.ConnectPolicy = fastPolicy(1)
	})
	require.NoError(t, sess.Connect(context.Background()))

	// First failure breaks the invoke, second breaks the reconnect handshake.
	tr.FailCalls(2)

	res, err := sess.Invoke(context.Background(), core.InvocationRequest{ID: "call-1", Tool: "search_code"}, nil)
	require.NoError(t, err, "transport exhaustion folds into the result")
	assert.Equal(t, core.InvocationError, res.Status)
	assert.Contains(t, res.Error, "reconnect did not recover")
}

func TestSessionSerializesFlaggedTools(t *testing.T) {
	var active, peak int64
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("list_contributors", func(json.RawMessage, map[string]string) (any, error) {
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return "ok", nil
		})
	sess := newSession(t, tr, func(o *toolserver.SessionOptions) {
		o.FanOutLimit = 8
	})
	require.NoError(t, sess.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := sess.Invoke(context.Background(), core.InvocationRequest{
				ID:        "call-" + string(rune('a'+id)),
				Tool:      "list_contributors",
				Arguments: json.RawMessage(`{"repository":"octocat/hello"}`),
			}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&peak), "serial tool must never overlap")
	assert.Equal(t, 4, tr.Calls("list_contributors"))
}

func TestSessionFanOutLimitBoundsParallelism(t *testing.T) {
	var active, peak int64
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...).
		Handle("search_code", func(json.RawMessage, map[string]string) (any, error) {
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return "ok", nil
		})
	sess := newSession(t, tr, func(o *toolserver.SessionOptions) {
		o.FanOutLimit = 2
	})
	require.NoError(t, sess.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := sess.Invoke(context.Background(), core.InvocationRequest{
				ID:        "call-" + string(rune('a'+id)),
				Tool:      "search_code",
				Arguments: json.RawMessage(`{"query":"x"}`),
			}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestSessionPing(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...)
	sess := newSession(t, tr)

	require.Error(t, sess.Ping(context.Background()), "not connected yet")

	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Ping(context.Background()))
	assert.Equal(t, 1, tr.Calls(toolserver.MethodPing))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.RepoTools()...)
	sess := newSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, toolserver.StatusClosed, sess.Status())
	assert.True(t, tr.Closed())

	_, err := sess.Invoke(context.Background(), core.InvocationRequest{ID: "call-1", Tool: "search_code"}, nil)
	assert.ErrorIs(t, err, core.ErrSessionClosed)
	assert.ErrorIs(t, sess.Connect(context.Background()), core.ErrSessionClosed)
}
