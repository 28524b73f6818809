package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultAddr is the address that services bind to when none is given.
const DefaultAddr = "127.0.0.1:8000"

// Loader is the signature of generated loaders. It provisions the service's
// resources and returns the service.
type Loader[S any] func(ctx context.Context, factory Factory, tracker *ResourceTracker, logger Logger) (S, error)

// Service is implemented by values that can serve requests once loaded.
type Service interface {
	// Bind serves on the given address until ctx is done or serving fails.
	Bind(ctx context.Context, addr string) error
}

// RunOptions configure Run.
type RunOptions struct {
	// Addr is the address the service binds to. If empty, DefaultAddr is
	// used.
	Addr string
	// Name is the name of the service. If empty, the name of the executable
	// is used.
	Name string
	// SecretsDir is the directory with the secrets file. If empty, the
	// current directory is used.
	SecretsDir string
	// Factory, if not nil, is used instead of a LocalFactory.
	Factory Factory
	// Sink receives log entries. If nil, entries are written to stderr.
	Sink Logger
}

// Start runs the given loader as the process's main function. It parses the
// command line, runs the service until it exits or the process is
// interrupted, and exits with a non-zero status if anything fails.
func Start[S any](loader Loader[S]) {
	var opts RunOptions
	cmd := &cobra.Command{
		Use:          filepath.Base(os.Args[0]),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, loader, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Addr, "addr", DefaultAddr, "Address to serve on")
	flags.StringVar(&opts.Name, "name", "", "Name of the service")
	flags.StringVar(&opts.SecretsDir, "secrets-dir", "", "Directory with the "+SecretsFile+" file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Run invokes the loader and serves the result if it is a Service. A result
// that is not a Service is returned after loading, with nothing served.
func Run[S any](ctx context.Context, loader Loader[S], opts RunOptions) error {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(os.Args[0])
	}
	factory := opts.Factory
	if factory == nil {
		factory = NewLocalFactory(opts.Name, opts.SecretsDir)
	}
	sink := opts.Sink
	if sink == nil {
		sink = ConsoleSink(zapcore.Lock(os.Stderr))
	}

	tracker := NewResourceTracker()
	svc, err := loader(ctx, factory, tracker, sink)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", opts.Name)
	}
	log := zap.L().Named("annoboot")
	defer func() { _ = log.Sync() }()
	log.Info("loaded service",
		zap.String("service", opts.Name),
		zap.Int("resources", len(tracker.Resources())))

	s, ok := interface{}(svc).(Service)
	if !ok {
		log.Warn("loaded value is not a service, nothing to serve", zap.String("type", fmt.Sprintf("%T", svc)))
		return nil
	}
	log.Info("starting service", zap.String("addr", opts.Addr))
	return s.Bind(ctx, opts.Addr)
}

// ConsoleSink returns a sink that writes human readable entries of every level
// to w. Filtering is left to the EnvFilter that generated loaders install.
func ConsoleSink(w zapcore.WriteSyncer) Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), w, zap.LevelEnablerFunc(func(zapcore.Level) bool {
		return true
	}))
}

// HTTPService serves an http.Handler. Routers like chi or gin can be used as
// the handler.
type HTTPService struct {
	Handler http.Handler
	// ShutdownTimeout bounds how long in-flight requests may take once the
	// context is done. If zero, five seconds are allowed.
	ShutdownTimeout time.Duration
}

// NewHTTPService returns a service for the given handler.
func NewHTTPService(h http.Handler) HTTPService {
	return HTTPService{Handler: h}
}

func (s HTTPService) Bind(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "could not listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on the given listener until ctx is done. It then shuts the
// server down gracefully and returns nil.
func (s HTTPService) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		timeout := s.ShutdownTimeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("http server shutdown", zap.Error(err))
		}
	}()
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}
