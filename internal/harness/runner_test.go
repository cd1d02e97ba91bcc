package harness

import (
	"context"
	stderrors "errors"
	"net"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	grpcapi "github.com/chatreplay/chatreplay/internal/api/grpc"
	httpapi "github.com/chatreplay/chatreplay/internal/api/http"
	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/internal/index"
	"github.com/chatreplay/chatreplay/internal/lookup"
	"github.com/chatreplay/chatreplay/internal/seed"
	"github.com/chatreplay/chatreplay/pkg/types"
)

func cloneConversations(convs []types.Conversation) []types.Conversation {
	out := make([]types.Conversation, len(convs))
	for i, c := range convs {
		out[i] = types.Conversation{ID: c.ID, Messages: append([]types.Message(nil), c.Messages...)}
	}
	return out
}

func newEngine(t *testing.T, convs []types.Conversation) *lookup.Engine {
	t.Helper()
	ix, err := index.Build(convs)
	require.NoError(t, err)
	return lookup.NewEngine(ix)
}

func startHTTP(t *testing.T, convs []types.Conversation) string {
	t.Helper()
	srv := httptest.NewServer(httpapi.NewMux(newEngine(t, convs)))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRun_HTTPEndToEnd(t *testing.T) {
	convs := sampleConversations()
	url := startHTTP(t, cloneConversations(convs))

	reqs, err := Derive(convs)
	require.NoError(t, err)

	rep, err := NewRunner(NewHTTPClient(url, 4), reqs, 4).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, assistantCount(convs), rep.Requests)
	assert.Greater(t, rep.Elapsed, time.Duration(0))
	assert.InDelta(t, float64(rep.Requests)/rep.Elapsed.Seconds(), rep.Throughput, 1e-6)
}

func TestRun_GRPCEndToEnd(t *testing.T) {
	convs := sampleConversations()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpcapi.RegisterCompletionsServer(srv, grpcapi.NewCompletionsServer(newEngine(t, cloneConversations(convs))))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	reqs, err := Derive(convs)
	require.NoError(t, err)
	rep, err := NewRunner(NewGRPCClientFromConn(conn), reqs, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, assistantCount(convs), rep.Requests)
}

func TestRun_SeededPrefixSurfacesAsNotFound(t *testing.T) {
	convs := sampleConversations()
	served := cloneConversations(convs)
	seed.New(seed.Config{Rate: 1, Target: seed.TargetPrefix, Seed: 1, HasSeed: true}).Apply(served)
	url := startHTTP(t, served)

	reqs, err := Derive(convs)
	require.NoError(t, err)
	_, err = NewRunner(NewHTTPClient(url, 1), reqs, 1).Run(context.Background())
	require.Error(t, err)

	var f *Failure
	require.True(t, stderrors.As(err, &f))
	assert.Equal(t, FailureNotFound, f.Kind)
	assert.Equal(t, 0, f.RequestIndex)
}

func TestRun_SeededResponseSurfacesAsContentMismatch(t *testing.T) {
	convs := []types.Conversation{
		{ID: "only", Messages: []types.Message{u("q"), a("answer")}},
	}
	served := cloneConversations(convs)
	rep := seed.New(seed.Config{Rate: 1, Target: seed.TargetResponse, Seed: 1, HasSeed: true}).Apply(served)
	require.Len(t, rep.Mutations, 1)
	url := startHTTP(t, served)

	reqs, err := Derive(convs)
	require.NoError(t, err)
	_, err = NewRunner(NewHTTPClient(url, 1), reqs, 1).Run(context.Background())
	require.Error(t, err)

	var f *Failure
	require.True(t, stderrors.As(err, &f))
	assert.Equal(t, FailureValidation, f.Kind)
	assert.ErrorIs(t, f, errors.ErrContentMismatch)
	assert.Equal(t, "answer", f.Expected())
	assert.Equal(t, rep.Mutations[0].After, f.Actual())
}

// engineClient answers straight from an engine, skipping the network.
type engineClient struct {
	engine *lookup.Engine
}

func (c engineClient) Complete(_ context.Context, messages []types.Message) (types.ResponseEnvelope, error) {
	return c.engine.Respond(messages)
}

func TestRun_SeededPrefixNeverServesCorruptedReply(t *testing.T) {
	convs := []types.Conversation{
		{ID: "c", Messages: []types.Message{u("q1"), a("r1"), u("q2"), a("r2")}},
	}
	reqs, err := Derive(convs)
	require.NoError(t, err)

	failed := 0
	for s := uint64(0); s < 64; s++ {
		served := cloneConversations(convs)
		rep := seed.New(seed.Config{Rate: 0.5, Target: seed.TargetPrefix, Seed: s, HasSeed: true}).Apply(served)
		if len(rep.Mutations) == 0 {
			continue
		}

		_, err := NewRunner(engineClient{newEngine(t, served)}, reqs, 1).Run(context.Background())
		require.Error(t, err, "seed %d", s)
		var f *Failure
		require.True(t, stderrors.As(err, &f))
		assert.Equal(t, FailureNotFound, f.Kind, "seed %d mutated %+v", s, rep.Mutations)
		failed++
	}
	assert.Greater(t, failed, 0)
}

func TestRun_MatchingSeedsAgree(t *testing.T) {
	cfg := seed.Config{Rate: 0.5, Target: seed.TargetAny, Seed: 99, HasSeed: true}

	served := sampleConversations()
	seed.New(cfg).Apply(served)
	url := startHTTP(t, served)

	local := sampleConversations()
	seed.New(cfg).Apply(local)
	reqs, err := Derive(local)
	require.NoError(t, err)

	rep, err := NewRunner(NewHTTPClient(url, 2), reqs, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(reqs), rep.Requests)
}

type fakeClient struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
	respond  func(messages []types.Message) (types.ResponseEnvelope, error)
}

func (c *fakeClient) Complete(ctx context.Context, messages []types.Message) (types.ResponseEnvelope, error) {
	c.calls.Add(1)
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.respond(messages)
}

func manyRequests(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{
			Index:    i,
			Messages: []types.Message{u("q")},
			Expected: types.Candidate{ConversationID: "c", Content: "r"},
		}
	}
	return reqs
}

func TestRun_FirstFailureStopsDispatch(t *testing.T) {
	client := &fakeClient{respond: func([]types.Message) (types.ResponseEnvelope, error) {
		return types.ResponseEnvelope{}, errors.NewKeyNotFound("miss")
	}}

	_, err := NewRunner(client, manyRequests(100), 1).Run(context.Background())
	require.Error(t, err)
	var f *Failure
	require.True(t, stderrors.As(err, &f))
	assert.Equal(t, FailureNotFound, f.Kind)
	assert.Equal(t, int64(1), client.calls.Load(), "queued work must not start after a failure")
}

func TestRun_TransportFailure(t *testing.T) {
	client := &fakeClient{respond: func([]types.Message) (types.ResponseEnvelope, error) {
		return types.ResponseEnvelope{}, errors.NewTransportError("boom", nil)
	}}
	_, err := NewRunner(client, manyRequests(10), 2).Run(context.Background())
	var f *Failure
	require.True(t, stderrors.As(err, &f))
	assert.Equal(t, FailureTransport, f.Kind)
	assert.ErrorIs(t, f, errors.ErrTransport)
	assert.LessOrEqual(t, client.calls.Load(), int64(2))
}

func TestRun_ConcurrencyBound(t *testing.T) {
	client := &fakeClient{
		delay: 2 * time.Millisecond,
		respond: func([]types.Message) (types.ResponseEnvelope, error) {
			return types.ResponseEnvelope{ID: "c", Message: a("r")}, nil
		},
	}
	rep, err := NewRunner(client, manyRequests(64), 4).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, rep.Requests)
	assert.LessOrEqual(t, client.maxSeen.Load(), int64(4))
	assert.Equal(t, int64(64), client.calls.Load())
}

func TestRun_CancelledContext(t *testing.T) {
	client := &fakeClient{respond: func([]types.Message) (types.ResponseEnvelope, error) {
		return types.ResponseEnvelope{ID: "c", Message: a("r")}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(client, manyRequests(10), 2).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), client.calls.Load())
}

// blockingClient holds every call until its context ends.
type blockingClient struct {
	started chan struct{}
	once    sync.Once
}

func (c *blockingClient) Complete(ctx context.Context, _ []types.Message) (types.ResponseEnvelope, error) {
	c.once.Do(func() { close(c.started) })
	<-ctx.Done()
	return types.ResponseEnvelope{}, errors.NewTransportError("post completion", ctx.Err())
}

func TestRun_CancelledMidRunIsInterruption(t *testing.T) {
	client := &blockingClient{started: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-client.started
		cancel()
	}()

	_, err := NewRunner(client, manyRequests(10), 2).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var f *Failure
	assert.False(t, stderrors.As(err, &f), "cancellation must not be reported as a request failure")
	assert.Contains(t, err.Error(), "interrupted")
}

func TestRun_FixedClock(t *testing.T) {
	client := &fakeClient{respond: func([]types.Message) (types.ResponseEnvelope, error) {
		return types.ResponseEnvelope{ID: "c", Message: a("r")}, nil
	}}
	base := time.Unix(1700000000, 0)
	ticks := 0
	r := NewRunner(client, manyRequests(10), 2)
	r.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 2 * time.Second)
	}

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ticks, "run is timed once at each end")
	assert.Equal(t, 2*time.Second, rep.Elapsed)
	assert.InDelta(t, 5.0, rep.Throughput, 1e-9)
}
