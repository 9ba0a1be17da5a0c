package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelgate/internal/auth"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/dunamismax/pixelgate/internal/pipeline"
	"github.com/dunamismax/pixelgate/internal/ratelimit"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (s *recordingSink) Append(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) all() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LogEntry(nil), s.entries...)
}

type recordingArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchive) WriteObject(_ context.Context, key string, _ []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 1500 * time.Millisecond}, nil
}

type fixture struct {
	server *Server
	sink   *recordingSink
}

func newFixture(t *testing.T, mutate func(*Options)) fixture {
	t.Helper()

	authService, err := auth.NewService(store.NewMemoryUserStore(), auth.Config{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	registry := prometheus.NewRegistry()
	sink := &recordingSink{}
	opts := Options{
		Logger:   logger,
		Auth:     authService,
		Executor: pipeline.NewExecutor(imageops.NewRegistry(imageops.NewBackend()), pipeline.WithMetrics(registry)),
		Sink:     sink,
		Registry: registry,
	}
	if mutate != nil {
		mutate(&opts)
	}

	server, err := NewServer(opts)
	require.NoError(t, err)
	return fixture{server: server, sink: sink}
}

func (f fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f fixture) token(t *testing.T) string {
	t.Helper()

	body := `{"email":"Ada@Example.com","password":"correct horse"}`
	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool         `json:"success"`
		Data    auth.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// avifHeader is an ISO-BMFF ftyp box with the avif major brand.
func avifHeader() []byte {
	box := []byte{0, 0, 0, 0x20}
	box = append(box, "ftypavif"...)
	box = append(box, 0, 0, 0, 0)
	box = append(box, "avifmif1miafMA1B"...)
	return box
}

func uploadRequest(t *testing.T, path, token string, file []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if file != nil {
		part, err := writer.CreateFormFile("image", "input.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Timestamp)
	return body
}

func dimensions(t *testing.T, buf []byte) (int, int) {
	t.Helper()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, imageops.BackendName, body["backend"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.token(t)

	t.Run("duplicate email", func(t *testing.T) {
		body := `{"email":"ada@example.com","password":"another one"}`
		rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, string(domain.KindConflict), decodeError(t, rec).Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		body := `{"email":"ada@example.com","password":"wrong"}`
		rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid credentials", decodeError(t, rec).Error)
	})

	t.Run("malformed email", func(t *testing.T) {
		body := `{"email":"not-an-email","password":"secret"}`
		rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(domain.KindValidation), decodeError(t, rec).Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		body := `{"email":"ada@example.com","password":"x","admin":true}`
		rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResizeReturnsImage(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t)

	rec := f.do(uploadRequest(t, "/images/resize", token, testPNG(t, 80, 40), map[string]string{"width": "40"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="processed-image.png"`, rec.Header().Get("Content-Disposition"))

	width, height := dimensions(t, rec.Body.Bytes())
	assert.Equal(t, 40, width)
	assert.Equal(t, 20, height)

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ResultSuccess, entries[0].Result)
	assert.Equal(t, "ada@example.com", entries[0].User)
	assert.Equal(t, "resize", entries[0].Endpoint)
	assert.Equal(t, rec.Header().Get(requestIDHeader), entries[0].RequestID)
	assert.GreaterOrEqual(t, entries[0].DurationMS, int64(0))
}

func TestMissingTokenIsRejectedAndLogged(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(uploadRequest(t, "/images/rotate", "", testPNG(t, 10, 10), map[string]string{"angle": "90"}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(domain.KindUnauthorized), body.Code)
	assert.Contains(t, body.Error, "missing token")

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ResultError, entries[0].Result)
	assert.Empty(t, entries[0].User)
}

func TestInvalidTokenIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(uploadRequest(t, "/images/rotate", "not-a-jwt", testPNG(t, 10, 10), map[string]string{"angle": "90"}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "invalid token")
}

func TestParameterValidation(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t)

	cases := []struct {
		name   string
		path   string
		fields map[string]string
		field  string
	}{
		{name: "negative sigma", path: "/images/filter", fields: map[string]string{"filter": "blur", "sigma": "-1"}, field: "sigma"},
		{name: "bad angle", path: "/images/rotate", fields: map[string]string{"angle": "45"}, field: "angle"},
		{name: "missing width", path: "/images/resize", fields: map[string]string{}, field: "width"},
		{name: "unknown format", path: "/images/format", fields: map[string]string{"format": "gif"}, field: "format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(uploadRequest(t, tc.path, token, testPNG(t, 10, 10), tc.fields))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, string(domain.KindValidation), body.Code)
			assert.Contains(t, body.Error, tc.field)
		})
	}
	assert.Empty(t, f.sink.all())
}

func TestUploadRejections(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(uploadRequest(t, "/images/rotate", "", nil, map[string]string{"angle": "90"}))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(httptest.NewRequest(http.MethodPost, "/images/rotate", strings.NewReader("angle=90")))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported media type", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(uploadRequest(t, "/images/rotate", "", []byte("plain text, not an image"), map[string]string{"angle": "90"}))
		require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Equal(t, string(domain.KindUnsupported), decodeError(t, rec).Code)
	})

	t.Run("avif without a decoder", func(t *testing.T) {
		if imageops.BackendName != "imaging" {
			t.Skip("backend decodes avif")
		}
		f := newFixture(t, nil)
		rec := f.do(uploadRequest(t, "/images/rotate", "", avifHeader(), map[string]string{"angle": "90"}))
		require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, string(domain.KindUnsupported), body.Code)
		assert.Contains(t, body.Error, "image/avif")
		assert.Empty(t, f.sink.all())
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.MaxUploadBytes = 64 })
		rec := f.do(uploadRequest(t, "/images/rotate", "", testPNG(t, 32, 32), map[string]string{"angle": "90"}))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, codePayloadTooLarge, decodeError(t, rec).Code)
	})
}

func TestCropOutOfBoundsIsProcessingError(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t)

	fields := map[string]string{"left": "5", "top": "5", "width": "10", "height": "10"}
	rec := f.do(uploadRequest(t, "/images/crop", token, testPNG(t, 10, 10), fields))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(domain.KindProcessing), decodeError(t, rec).Code)

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ResultError, entries[0].Result)
}

func TestPipeline(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t)

	operations := `[{"type":"resize","params":{"width":80}},{"type":"rotate","params":{"angle":90}}]`
	rec := f.do(uploadRequest(t, "/images/pipeline", token, testPNG(t, 160, 120), map[string]string{"operations": operations}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	width, height := dimensions(t, rec.Body.Bytes())
	assert.Equal(t, 60, width)
	assert.Equal(t, 80, height)

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].Endpoint)
	assert.Len(t, entries[0].Params, 2)
}

func TestPipelineRejections(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t)

	t.Run("steps alias", func(t *testing.T) {
		fields := map[string]string{"steps": `[{"type":"rotate","params":{"angle":90}}]`}
		rec := f.do(uploadRequest(t, "/images/pipeline", token, testPNG(t, 10, 10), fields))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error, `"steps"`)
	})

	t.Run("unknown operation", func(t *testing.T) {
		fields := map[string]string{"operations": `[{"type":"rotate","params":{"angle":90}},{"type":"warp","params":{}}]`}
		rec := f.do(uploadRequest(t, "/images/pipeline", token, testPNG(t, 10, 10), fields))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, string(domain.KindValidation), body.Code)
		assert.Contains(t, body.Error, "warp")
	})

	t.Run("empty", func(t *testing.T) {
		rec := f.do(uploadRequest(t, "/images/pipeline", token, testPNG(t, 10, 10), map[string]string{"operations": `[]`}))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("failing step reports index", func(t *testing.T) {
		fields := map[string]string{"operations": `[{"type":"rotate","params":{"angle":90}},{"type":"crop","params":{"left":0,"top":0,"width":50,"height":50}}]`}
		rec := f.do(uploadRequest(t, "/images/pipeline", token, testPNG(t, 10, 10), fields))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error, "step 2 (crop)")
	})
}

func TestArchiveStageStoresResult(t *testing.T) {
	archive := &recordingArchive{}
	f := newFixture(t, func(o *Options) {
		o.Archive = archive
		o.ArchivePrefix = "results"
	})
	token := f.token(t)

	rec := f.do(uploadRequest(t, "/images/rotate", token, testPNG(t, 10, 10), map[string]string{"angle": "180"}))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, archive.keys, 1)
	assert.True(t, strings.HasPrefix(archive.keys[0], "results/"))
	assert.True(t, strings.HasSuffix(archive.keys[0], rec.Header().Get(requestIDHeader)+"-rotate.png"))
}

func TestRateLimitRejects(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RateLimiter = denyLimiter{} })

	rec := f.do(uploadRequest(t, "/images/rotate", "", testPNG(t, 10, 10), map[string]string{"angle": "90"}))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, codeRateLimited, decodeError(t, rec).Code)

	health := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "2f1c7a44-1b43-4d3e-9a4c-7d0f3f7c2b11")
	rec := f.do(req)
	assert.Equal(t, "2f1c7a44-1b43-4d3e-9a4c-7d0f3f7c2b11", rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "not a uuid")
	rec = f.do(req)
	assert.NotEqual(t, "not a uuid", rec.Header().Get(requestIDHeader))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pixelgate_api_requests_total")
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/images/resize", routeLabel("/images/resize"))
	assert.Equal(t, "/images/pipeline", routeLabel("/images/pipeline"))
	assert.Equal(t, "/images/{unknown}", routeLabel("/images/../../etc"))
	assert.Equal(t, "other", routeLabel("/favicon.ico"))
}
