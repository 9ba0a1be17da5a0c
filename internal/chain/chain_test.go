package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/dunamismax/pixelgate/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	entries []domain.LogEntry
	err     error
}

func (s *memorySink) Append(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.err
}

type staticVerifier struct {
	identity domain.Identity
	err      error
}

func (v staticVerifier) VerifyToken(context.Context, string) (domain.Identity, error) {
	return v.identity, v.err
}

type memoryObjects struct {
	keys []string
	err  error
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, _ []byte, _ string) error {
	m.keys = append(m.keys, key)
	return m.err
}

func quietLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

func coreCounting(calls *int, out []byte, err error) Handler {
	return HandlerFunc(func(context.Context, *RequestContext, []byte) ([]byte, error) {
		*calls++
		return out, err
	})
}

func TestChainOrdersStagesOutermostFirst(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
				order = append(order, name)
				return next.Handle(ctx, rc, buf)
			})
		}
	}
	core := HandlerFunc(func(context.Context, *RequestContext, []byte) ([]byte, error) {
		order = append(order, "core")
		return nil, nil
	})

	_, err := Chain(core, stage("a"), stage("b")).Handle(context.Background(), &RequestContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "core"}, order)
}

func TestMissingTokenFailsBeforeCore(t *testing.T) {
	sink := &memorySink{}
	logger, _ := quietLogger()
	calls := 0
	h := Chain(coreCounting(&calls, []byte("ok"), nil),
		Logging(sink, logger),
		Authenticate(staticVerifier{identity: domain.Identity{UserID: "u1"}}),
	)

	out, err := h.Handle(context.Background(), NewRequestContext("r1", "rotate", "", nil), []byte("img"))
	assert.Nil(t, out)

	var unauthorized *domain.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, "missing token", unauthorized.Reason)
	assert.Zero(t, calls)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, domain.ResultError, sink.entries[0].Result)
	assert.Empty(t, sink.entries[0].User)
}

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	calls := 0
	h := Chain(coreCounting(&calls, nil, nil), Authenticate(staticVerifier{err: errors.New("expired")}))

	_, err := h.Handle(context.Background(), NewRequestContext("r1", "crop", "bad", nil), nil)
	var unauthorized *domain.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, "invalid token", unauthorized.Reason)
	assert.Zero(t, calls)
}

func TestAuthenticateAttachesIdentity(t *testing.T) {
	identity := domain.Identity{UserID: "u1", Email: "a@b.c"}
	var seen domain.Identity
	core := HandlerFunc(func(_ context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
		seen, _ = rc.Identity()
		return buf, nil
	})

	_, err := Chain(core, Authenticate(staticVerifier{identity: identity})).
		Handle(context.Background(), NewRequestContext("r1", "resize", "tok", nil), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, identity, seen)
}

func TestIdentityAttachesOnce(t *testing.T) {
	rc := NewRequestContext("r1", "resize", "tok", nil)
	require.NoError(t, rc.AttachIdentity(domain.Identity{UserID: "u1"}))
	require.ErrorIs(t, rc.AttachIdentity(domain.Identity{UserID: "u2"}), domain.ErrIdentityAttached)

	id, ok := rc.Identity()
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}

func TestLoggingRecordsOneEntryPerOutcome(t *testing.T) {
	boom := &domain.ProcessingError{Op: domain.OpCrop, Err: errors.New("out of bounds")}
	cases := []struct {
		name    string
		coreErr error
		result  string
		level   string
	}{
		{"success", nil, domain.ResultSuccess, domain.LogLevelInfo},
		{"failure", boom, domain.ResultError, domain.LogLevelError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &memorySink{}
			logger, _ := quietLogger()
			calls := 0
			params := domain.CropParams{Width: 1, Height: 1}
			h := Chain(coreCounting(&calls, []byte("out"), tc.coreErr),
				Logging(sink, logger),
				Authenticate(staticVerifier{identity: domain.Identity{UserID: "u1", Email: "a@b.c"}}),
			)

			_, err := h.Handle(context.Background(), NewRequestContext("req-9", "crop", "tok", params), []byte("in"))
			assert.Equal(t, tc.coreErr, err)

			require.Len(t, sink.entries, 1)
			entry := sink.entries[0]
			assert.Equal(t, tc.result, entry.Result)
			assert.Equal(t, tc.level, entry.Level)
			assert.GreaterOrEqual(t, entry.DurationMS, int64(0))
			assert.Equal(t, "a@b.c", entry.User)
			assert.Equal(t, "crop", entry.Endpoint)
			assert.Equal(t, "req-9", entry.RequestID)
			assert.Equal(t, params, entry.Params)
		})
	}
}

func TestLoggingSinkFailureDoesNotAlterOutcome(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	logger, hook := quietLogger()
	calls := 0
	h := Chain(coreCounting(&calls, []byte("out"), nil), Logging(sink, logger))

	out, err := h.Handle(context.Background(), NewRequestContext("r1", "rotate", "", nil), []byte("in"))
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), out)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestArchiveIsBestEffort(t *testing.T) {
	logger, hook := quietLogger()
	objects := &memoryObjects{err: errors.New("bucket gone")}
	calls := 0
	h := Chain(coreCounting(&calls, []byte("payload"), nil), Archive(objects, "results", logger))

	out, err := h.Handle(context.Background(), NewRequestContext("r1", "filter", "", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)
	require.Len(t, objects.keys, 1)
	assert.Contains(t, objects.keys[0], "results/anonymous/")
	assert.Len(t, hook.Entries, 1)
}

func TestArchiveSkipsFailedRequests(t *testing.T) {
	logger, _ := quietLogger()
	objects := &memoryObjects{}
	calls := 0
	h := Chain(coreCounting(&calls, nil, errors.New("nope")), Archive(objects, "results", logger))

	_, err := h.Handle(context.Background(), NewRequestContext("r1", "filter", "", nil), nil)
	require.Error(t, err)
	assert.Empty(t, objects.keys)
}

func TestArchiveKey(t *testing.T) {
	rc := NewRequestContext("req-1", "resize", "tok", nil)
	require.NoError(t, rc.AttachIdentity(domain.Identity{UserID: "user-7"}))
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "out/user-7/2025/03/09/req-1-resize.png", ArchiveKey("out", rc, "png", now))
}

func TestOperationHandlerRequiresParams(t *testing.T) {
	exec := pipeline.NewExecutor(imageops.NewRegistry(imageops.NewBackend()))
	h := OperationHandler(exec, domain.OpRotate)

	_, err := h.Handle(context.Background(), NewRequestContext("r1", "rotate", "", nil), nil)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestPipelineHandlerRequiresPipeline(t *testing.T) {
	exec := pipeline.NewExecutor(imageops.NewRegistry(imageops.NewBackend()))
	_, err := PipelineHandler(exec).Handle(context.Background(), NewRequestContext("r1", "pipeline", "", domain.RotateParams{Angle: 90}), nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "operations", validationErr.Field)
}
