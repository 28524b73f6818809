package runtime

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingService struct {
	addr  string
	bound bool
}

func (s *recordingService) Bind(ctx context.Context, addr string) error {
	s.addr = addr
	s.bound = true
	return nil
}

func TestRun(t *testing.T) {
	defer zap.ReplaceGlobals(zap.L())()
	sink, logs := observer.New(TraceLevel)
	svc := &recordingService{}

	var gotFactory Factory
	loader := func(ctx context.Context, factory Factory, tracker *ResourceTracker, logger Logger) (*recordingService, error) {
		gotFactory = factory
		zap.ReplaceGlobals(zap.New(NewEnvFilter().AddDirective(InfoLevel).Wrap(logger)))
		_, err := GetResource(ctx, newCounter(), factory, tracker)
		return svc, err
	}
	err := Run(context.Background(), loader, RunOptions{Name: "app", SecretsDir: t.TempDir(), Sink: sink})
	require.NoError(t, err)

	assert.True(t, svc.bound)
	assert.Equal(t, DefaultAddr, svc.addr)
	require.IsType(t, &LocalFactory{}, gotFactory)
	assert.Equal(t, "app", gotFactory.ServiceName())

	loaded := logs.FilterMessage("loaded service").All()
	require.Len(t, loaded, 1)
	assert.Equal(t, int64(1), loaded[0].ContextMap()["resources"])
	assert.Equal(t, "annoboot", loaded[0].LoggerName)
}

func TestRun_NotAService(t *testing.T) {
	loader := func(ctx context.Context, factory Factory, tracker *ResourceTracker, logger Logger) (string, error) {
		return "just a value", nil
	}
	err := Run(context.Background(), loader, RunOptions{Name: "app", Factory: NewLocalFactory("app", t.TempDir()), Sink: ConsoleSink(discardSyncer{})})
	assert.NoError(t, err)
}

func TestRun_LoaderError(t *testing.T) {
	loader := func(ctx context.Context, factory Factory, tracker *ResourceTracker, logger Logger) (*recordingService, error) {
		return nil, errors.Wrap(assert.AnError, "failed to provision resources.Postgres")
	}
	err := Run(context.Background(), loader, RunOptions{Name: "app", SecretsDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to load app: failed to provision resources.Postgres")
}

func TestHTTPService(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svc := NewHTTPService(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- svc.Serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestHTTPService_BindError(t *testing.T) {
	err := NewHTTPService(http.NotFoundHandler()).Bind(context.Background(), "not an address")
	assert.ErrorContains(t, err, "could not listen on not an address")
}

type discardSyncer struct{}

func (discardSyncer) Write(p []byte) (int, error) { return len(p), nil }
func (discardSyncer) Sync() error                 { return nil }
