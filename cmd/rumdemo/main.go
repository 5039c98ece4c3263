// Command rumdemo replays a script of RUM commands through a scope tree and
// reports the produced events.
//
// Commands are dispatched to the tree from a single goroutine. Events are
// published to Pulse streams when REDIS_URL is set and logged otherwise. The
// session state is persisted to MongoDB when MONGO_URI is set, to a Pulse
// replicated map when only REDIS_URL is set and kept in memory otherwise.
//
// # Configuration
//
// Flags:
//
//	-config  YAML configuration file (optional, see runtime/rum/config)
//	-script  JSON-lines command script (default: built-in scenario)
//	-debug   Enable debug logs
//
// Environment variables:
//
//	RUM_*            - Configuration overrides (see runtime/rum/config)
//	REDIS_URL        - Redis address used for Pulse streams and maps (optional)
//	REDIS_PASSWORD   - Redis password (optional)
//	MONGO_URI        - MongoDB URI used for the crash context (optional)
//	MONGO_DATABASE   - MongoDB database (default: "rum")
//	HEALTH_ADDR      - Address of the health check endpoint (optional)
//
// # Example
//
//	RUM_APPLICATION_ID=shop-ios go run ./cmd/rumdemo
//	REDIS_URL=localhost:6379 go run ./cmd/rumdemo -script session.jsonl
package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	crashmongo "goa.design/rum/features/crashcontext/mongo"
	clientsmongo "goa.design/rum/features/crashcontext/mongo/clients/mongo"
	crashpulse "goa.design/rum/features/crashcontext/pulse"
	streampulse "goa.design/rum/features/stream/pulse"
	clientspulse "goa.design/rum/features/stream/pulse/clients/pulse"
	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/config"
	"goa.design/rum/runtime/rum/crashcontext"
	crashinmem "goa.design/rum/runtime/rum/crashcontext/inmem"
	"goa.design/rum/runtime/rum/event"
	"goa.design/rum/runtime/rum/identity"
	"goa.design/rum/runtime/rum/rumcontext"
	"goa.design/rum/runtime/rum/scope"
	"goa.design/rum/runtime/rum/telemetry"
)

type (
	// backend groups the event writer and crash context store selected from
	// the environment together with their cleanup.
	backend struct {
		writer  event.Writer
		store   crashcontext.Store
		pingers []health.Pinger
		closers []func(context.Context) error
	}

	redisPinger struct {
		rdb *redis.Client
	}
)

//go:embed scenario.jsonl
var scenario []byte

func main() {
	var (
		configF = flag.String("config", "", "YAML configuration file")
		scriptF = flag.String("script", "", "JSON-lines command script (default: built-in scenario)")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx, *configF, *scriptF); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, configPath, scriptPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	script := io.Reader(bytes.NewReader(scenario))
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer func() { _ = f.Close() }()
		script = f
	}
	steps, err := decodeScript(script, time.Now())
	if err != nil {
		return fmt.Errorf("decode script: %w", err)
	}

	logger := telemetry.NewClueLogger()
	be, err := newBackend(ctx, cfg.ApplicationID)
	if err != nil {
		return err
	}
	defer be.close(ctx)

	if addr := os.Getenv("HEALTH_ADDR"); addr != "" {
		stop := serveHealth(ctx, addr, be.pingers)
		defer stop()
	}

	// Shared context: connectivity is pushed by a publisher while the
	// lifecycle state is pulled on every read.
	provider := rumcontext.NewProvider(rumcontext.Context{
		ApplicationID: cfg.ApplicationID,
		Service:       cfg.Service,
		Env:           cfg.Env,
		Version:       cfg.Version,
		Source:        "ios",
		SDKVersion:    "rumdemo",
	}, rumcontext.WithLogger(logger))
	defer provider.Close()
	network := rumcontext.NewValuePublisher(&rumcontext.NetworkConnectionInfo{Reachability: rumcontext.ReachabilityYes})
	rumcontext.Subscribe(provider, rumcontext.NetworkConnectionField, network)
	appState := rumcontext.NewValueReader(rumcontext.AppStateForeground)
	rumcontext.Assign(provider, appState, rumcontext.AppStateField)

	writer := event.NewBuffered(be.writer, cfg.EventBufferSize, logger)
	reporter := crashcontext.NewReporter(be.store, logger)
	registry := identity.NewRegistry()

	deps := cfg.Dependencies()
	deps.Provider = provider
	deps.Writer = writer
	deps.CrashContext = reporter
	deps.Identities = registry
	deps.Logger = logger
	deps.Metrics = telemetry.NewClueMetrics()
	deps.Tracer = telemetry.NewClueTracer()
	app := scope.NewApplicationScope(deps)

	cmds := make(chan step)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for s := range cmds {
			dispatch(ctx, app, s, appState, registry)
		}
	}()
	for _, s := range steps {
		cmds <- s
	}
	close(cmds)
	wg.Wait()
	network.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := writer.Close(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "flush events")
	}
	if err := reporter.Close(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "flush crash context")
	}

	state, err := be.store.Load(shutdownCtx)
	switch {
	case errors.Is(err, crashcontext.ErrNotFound):
		log.Printf(ctx, "no session state persisted")
	case err != nil:
		return fmt.Errorf("load session state: %w", err)
	default:
		log.Print(ctx,
			log.KV{K: "msg", V: "last session state"},
			log.KV{K: "session", V: state.SessionID},
			log.KV{K: "initial", V: state.IsInitialSession},
			log.KV{K: "tracked_view", V: state.HasTrackedAnyView})
	}
	return nil
}

// dispatch applies one script step on the command goroutine so that
// environment changes are ordered with the commands around them.
func dispatch(ctx context.Context, app *scope.ApplicationScope, s step, appState *rumcontext.ValueReader[rumcontext.AppState], registry *identity.Registry) {
	switch {
	case s.appState != nil:
		appState.Set(*s.appState)
		log.Debugf(ctx, "app state %s", *s.appState)
	case s.release != "":
		registry.Release(s.release)
	case s.cmd != nil:
		if sv, ok := s.cmd.(command.StartView); ok {
			sv.Identity = registry.Track(sv.Identity.Key)
			s.cmd = sv
		}
		app.Process(ctx, s.cmd)
	}
}

// newBackend selects the event writer and crash context store from the
// environment.
func newBackend(ctx context.Context, applicationID string) (*backend, error) {
	be := &backend{}
	redisURL := os.Getenv("REDIS_URL")
	mongoURI := os.Getenv("MONGO_URI")

	var rdb *redis.Client
	if redisURL != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     redisURL,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		be.closers = append(be.closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		be.pingers = append(be.pingers, redisPinger{rdb: rdb})

		cli, err := clientspulse.New(clientspulse.Options{Redis: rdb})
		if err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("create pulse client: %w", err)
		}
		w, err := streampulse.NewWriter(streampulse.Options{Client: cli})
		if err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("create pulse writer: %w", err)
		}
		be.writer = w
		be.closers = append(be.closers, w.Close)
		log.Printf(ctx, "publishing events to pulse streams on %s", redisURL)
	} else {
		be.writer = event.WriterFunc(logEvent)
	}

	switch {
	case mongoURI != "":
		mc, err := mongo.Connect(options.Client().ApplyURI(mongoURI))
		if err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		be.closers = append(be.closers, mc.Disconnect)
		cli, err := clientsmongo.New(clientsmongo.Options{
			Client:   mc,
			Database: envOr("MONGO_DATABASE", "rum"),
		})
		if err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("create mongo client: %w", err)
		}
		be.pingers = append(be.pingers, cli)
		store, err := crashmongo.NewStore(cli, applicationID)
		if err != nil {
			be.close(ctx)
			return nil, err
		}
		be.store = store
	case rdb != nil:
		m, err := rmap.Join(ctx, "rum-crash-context", rdb)
		if err != nil {
			be.close(ctx)
			return nil, fmt.Errorf("join crash context map: %w", err)
		}
		be.closers = append(be.closers, func(context.Context) error { m.Close(); return nil })
		store, err := crashpulse.NewStore(m, applicationID)
		if err != nil {
			be.close(ctx)
			return nil, err
		}
		be.store = store
	default:
		be.store = crashinmem.New()
	}
	return be, nil
}

// close releases the backend resources in reverse order of acquisition.
func (b *backend) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			log.Errorf(ctx, err, "close backend")
		}
	}
	b.closers = nil
}

// serveHealth exposes the backend health on addr and returns a function
// stopping the server.
func serveHealth(ctx context.Context, addr string, pingers []health.Pinger) func() {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(health.NewChecker(pingers...)))
	srv := &http.Server{Addr: addr, Handler: log.HTTP(ctx)(mux), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf(ctx, "health endpoint listening on %q", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(ctx, err, "health endpoint")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf(ctx, err, "shutdown health endpoint")
		}
	}
}

func logEvent(ctx context.Context, e event.Event) error {
	log.Print(ctx,
		log.KV{K: "msg", V: "rum event"},
		log.KV{K: "type", V: string(e.Type)},
		log.KV{K: "session", V: e.SessionID},
		log.KV{K: "view", V: e.ViewRef.Name})
	return nil
}

func (p redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
