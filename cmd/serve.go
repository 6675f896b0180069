package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/primerl/bridge/api/primerlpb"
	"github.com/primerl/bridge/internal/batcher"
	"github.com/primerl/bridge/internal/cacheindex"
	"github.com/primerl/bridge/internal/config"
	"github.com/primerl/bridge/internal/engine"
	"github.com/primerl/bridge/internal/gateway"
	"github.com/primerl/bridge/internal/kvestimate"
	"github.com/primerl/bridge/internal/modelconfig"
	"github.com/primerl/bridge/internal/observability"
	"github.com/primerl/bridge/internal/prefixcache"
	"github.com/primerl/bridge/internal/registry"
	"github.com/primerl/bridge/internal/router"
	"github.com/primerl/bridge/internal/rpcserver"
	"github.com/primerl/bridge/internal/serving"
	"github.com/primerl/bridge/internal/session"
	"github.com/primerl/bridge/internal/verifier"
)

var (
	serveConfigFile  string
	serveHFRepo      string
	serveGatewayAddr string
	serveModel       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: gRPC + REST episode surface over a model engine",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "Optional TOML tunables file")
	serveCmd.Flags().StringVar(&serveHFRepo, "hf-repo", "", "HuggingFace repo (org/model) to derive KV shape from; falls back to the llama3-8b default")
	serveCmd.Flags().StringVar(&serveGatewayAddr, "http", ":8080", "REST gateway listen address")
	serveCmd.Flags().StringVar(&serveModel, "model", "llama3-8b", "Model name this node serves, registered with the placement router")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter := buildEngine(cfg)

	var prefixCache *prefixcache.Cache
	if cfg.PrefixCacheURL != "" {
		prefixCache, err = prefixcache.NewFromURL(cfg.PrefixCacheURL)
		if err != nil {
			return err
		}
	}

	sessions := session.NewManager()
	cacheIndex := cacheindex.New(4096)
	reg := registry.New()
	reg.RegisterNode(registry.Node{ID: cfg.NodeID, Models: []string{serveModel}, FreeHBM: 1 << 40, LinkBW: 1})
	rt := router.New(cacheIndex, reg)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer, err := observability.NewTracer(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	b := batcher.New(adapter, time.Duration(cfg.Tunables.BatchInterval)*time.Millisecond, cfg.Tunables.MaxBatch, time.Duration(cfg.Tunables.P95SLOMS)*time.Millisecond)
	b.OnSLOViolation(func(model string, wall time.Duration) {
		logrus.WithFields(logrus.Fields{"model": model, "wall": wall}).Warn("batcher: group exceeded p95 SLO")
	})

	svc := serving.New(serving.Config{
		Engine:      adapter,
		PrefixCache: prefixCache,
		Sessions:    sessions,
		CacheIndex:  cacheIndex,
		Registry:    reg,
		Router:      rt,
		Batcher:     b,
		Metrics:     metrics,
		Tracer:      tracer,
		NodeID:      cfg.NodeID,
		KVShape:     kvShapeFor(serveHFRepo),
	})
	if cfg.VerifierURL != "" {
		svc = svc.WithVerifier(verifier.New(cfg.VerifierURL))
	}
	go svc.Run(ctx)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(primerlpb.Codec()))
	primerlpb.RegisterEpisodesServer(grpcServer, rpcserver.New(svc))

	lis, err := net.Listen("tcp", formatAddr(cfg.Port))
	if err != nil {
		return err
	}
	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("serve: gRPC listening")
		if err := grpcServer.Serve(lis); err != nil {
			logrus.WithError(err).Error("serve: gRPC server stopped")
		}
	}()

	gw := gateway.New(svc, serveGatewayAddr, 30*time.Second, 30*time.Second, 90*time.Second)
	go func() {
		logrus.WithField("addr", serveGatewayAddr).Info("serve: REST gateway listening")
		if err := gw.Start(); err != nil {
			logrus.WithError(err).Error("serve: REST gateway stopped")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: formatAddr(cfg.MetricsPort), Handler: metricsMux}
	go func() {
		logrus.WithField("addr", metricsSrv.Addr).Info("serve: metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("serve: metrics server stopped")
		}
	}()

	<-ctx.Done()
	logrus.Info("serve: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	_ = gw.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func buildEngine(cfg *config.Config) engine.Adapter {
	switch cfg.Engine {
	case "vllm":
		return engine.NewVLLM(cfg.EngineBaseURL)
	case "sglang":
		return engine.NewSGLang(cfg.EngineBaseURL)
	default:
		return engine.NewDummy()
	}
}

// kvShapeFor resolves the KV estimator's transformer shape from a
// HuggingFace repo name, falling back to serving.New's llama3-8b
// default (the zero value) when hfRepo is empty or unreachable.
func kvShapeFor(hfRepo string) kvestimate.Shape {
	if hfRepo == "" {
		return kvestimate.Shape{}
	}
	shape, err := modelconfig.FetchShape(hfRepo)
	if err != nil {
		logrus.WithError(err).WithField("repo", hfRepo).Warn("serve: falling back to default KV shape")
		return kvestimate.Shape{}
	}
	return shape
}

func formatAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}
