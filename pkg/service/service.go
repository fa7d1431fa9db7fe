package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/atomws/pkg/engine"
	"github.com/polisai/atomws/pkg/job"
	"github.com/polisai/atomws/pkg/measure"
	"github.com/polisai/atomws/pkg/recycler"
)

const (
	// DefaultTitle names the service in headers and error pages.
	DefaultTitle = "atomws"

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// Version is reported in the identity headers; set at build time.
var Version = "dev"

// Options configure a Service.
type Options struct {
	Title   string
	Bind    []string
	Hide    bool
	Debug   bool
	Favicon string
	// Timeout is the default job timeout.
	Timeout time.Duration
	Route   []any
	// Catalog resolves atom types; the built-in catalog when nil.
	Catalog *engine.Catalog

	// Measures supplies the rate slots; a private registry sweeping every
	// MeasurePeriod is created when nil.
	Measures      *measure.Registry
	MeasurePeriod time.Duration
	// Objects collects pool counters for the metrics document.
	Objects  *recycler.Registry
	JobLimit int

	CaptureHeaders []string
	Redactions     map[string]string

	// Publisher shares this instance's metrics with its siblings.
	Publisher *RedisPublisher
}

// Service binds a set of listeners to one routing graph.
type Service struct {
	opts     Options
	identity job.Identity
	binds    []Bind
	logger   *slog.Logger
	started  time.Time

	graphs   *engine.GraphRegistry
	handler  *engine.HTTPHandler
	jobs     *engine.JobPool
	stats    *counters
	measures *measure.Registry
	ownsMeas bool
	objects  *recycler.Registry

	mu         sync.Mutex
	server     *http.Server
	listeners  []net.Listener
	serving    sync.WaitGroup
	publishing sync.WaitGroup
	cancel     context.CancelFunc
	stopped    bool
}

// New parses the bind targets and builds the routing graph. Configuration and
// initialisation failures are returned before anything is bound.
func New(opts Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	binds, err := ParseBinds(opts.Bind)
	if err != nil {
		return nil, err
	}

	s := &Service{
		opts:    opts,
		binds:   binds,
		logger:  logger.With("service", opts.Title),
		started: time.Now(),
		identity: job.Identity{
			Title:   opts.Title,
			Powered: fmt.Sprintf("atomws/%s go/%s", Version, runtime.Version()),
			Hide:    opts.Hide,
			Debug:   opts.Debug,
		},
	}

	g, err := s.buildGraph(opts.Route)
	if err != nil {
		return nil, err
	}

	s.measures = opts.Measures
	if s.measures == nil {
		s.measures = measure.NewRegistry(measure.Options{Period: opts.MeasurePeriod})
		s.ownsMeas = true
	}
	s.objects = opts.Objects
	if s.objects == nil {
		s.objects = recycler.NewRegistry()
	}
	s.jobs = engine.NewJobPool(opts.JobLimit)
	s.objects.Register(s.jobs)
	if s.ownsMeas {
		s.objects.Register(s.measures.Pool())
	}
	s.stats = newCounters(s.measures)

	s.graphs = engine.NewGraphRegistry(g, s.logger)
	s.handler = engine.NewHTTPHandler(engine.HandlerConfig{
		Graphs:   s.graphs,
		Jobs:     s.jobs,
		Timeout:  opts.Timeout,
		Logger:   s.logger,
		Observer: s.stats,
		Conn:     requestConn,
	})
	return s, nil
}

func (s *Service) buildGraph(route []any) (*engine.Graph, error) {
	return engine.NewGraph(context.Background(), engine.Options{
		Identity:       s.identity,
		Route:          route,
		Favicon:        s.opts.Favicon,
		Catalog:        s.opts.Catalog,
		Logger:         s.logger,
		CaptureHeaders: s.opts.CaptureHeaders,
		Redactions:     s.opts.Redactions,
	})
}

// Identity returns the identity jobs are served under.
func (s *Service) Identity() job.Identity { return s.identity }

// Handler returns the instrumented HTTP handler serving the routing graph.
func (s *Service) Handler() http.Handler {
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.requestStarted()
		s.handler.ServeHTTP(w, r)
	})
	return otelhttp.NewHandler(counted, s.opts.Title)
}

// Start binds every listener and serves them in the background. It returns
// once all listeners are bound, or with the first bind error after closing
// the ones already opened.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("service already started")
	}

	listeners := make([]net.Listener, 0, len(s.binds))
	for _, b := range s.binds {
		ln, err := b.listen(ctx)
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}
			return err
		}
		listeners = append(listeners, &trackedListener{Listener: ln, stats: s.stats})
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.listeners = listeners
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ConnState:         s.stats.connState,
		ConnContext:       connContext,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	if s.ownsMeas {
		s.measures.Start(runCtx)
	}

	for _, ln := range listeners {
		s.logger.Info("service listening", "addr", ln.Addr().String())
		s.serving.Add(1)
		go func(ln net.Listener) {
			defer s.serving.Done()
			if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("listener failed", "addr", ln.Addr().String(), "error", err)
			}
		}(ln)
	}

	if p := s.opts.Publisher; p != nil {
		p.source = s.Metrics
		s.publishing.Add(1)
		go func() {
			defer s.publishing.Done()
			p.Run(runCtx)
		}()
	}
	return nil
}

// Stop shuts the listeners down gracefully, waiting for in-flight jobs until
// ctx ends, then stops the measure ticker and the publisher.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
		s.serving.Wait()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.publishing.Wait()
	if p := s.opts.Publisher; p != nil {
		if perr := p.Withdraw(ctx); perr != nil {
			s.logger.Warn("metrics withdraw failed", "error", perr)
		}
	}
	s.stats.release(s.measures)
	if s.ownsMeas {
		s.measures.Close()
	}
	s.logger.Info("service stopped")
	return err
}

// Reload builds a graph for route and swaps it in. Jobs in flight finish on
// the graph they started with. On error the current graph stays active.
func (s *Service) Reload(route []any) error {
	g, err := s.buildGraph(route)
	if err != nil {
		return err
	}
	s.opts.Route = route
	s.graphs.Swap(g)
	return nil
}

// Addrs returns the bound listener addresses.
func (s *Service) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Metrics returns a snapshot of this instance's counters.
func (s *Service) Metrics() Document {
	doc := Document{
		Service:  s.opts.Title,
		Server:   s.identity.Powered,
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Date:     time.Now().UnixMilli(),
		Uptime:   measure.Round(time.Since(s.started).Seconds(), 3),
		Load:     runtime.NumGoroutine(),
		Workers:  1,
		Memory:   memorySnapshot(),
		Objects:  s.objects.Snapshot(),
	}
	s.stats.snapshot(&doc)
	return doc
}

// Document returns the metrics of every live instance when a publisher is
// configured, and this instance's metrics otherwise.
func (s *Service) Document(ctx context.Context) Document {
	local := s.Metrics()
	if s.opts.Publisher == nil {
		return local
	}
	doc, err := s.opts.Publisher.Aggregate(ctx)
	if err != nil || doc.Workers == 0 {
		if err != nil {
			s.logger.Debug("metrics aggregation unavailable", "error", err)
		}
		return local
	}
	return doc
}
