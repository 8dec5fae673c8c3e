package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nkazachenko/grps-core-go/pkg/cache"
	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/engine"
	"github.com/nkazachenko/grps-core-go/pkg/logging"
	"github.com/nkazachenko/grps-core-go/pkg/telemetry"
	"github.com/nkazachenko/grps-core-go/pkg/transport/grpcfrontend"
	"github.com/nkazachenko/grps-core-go/pkg/transport/httpfrontend"
	"github.com/nkazachenko/grps-core-go/pkg/transport/mcpfrontend"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap the engine and start its transports",
	Long: `Reads the server and inference configuration documents, bootstraps
the engine, and serves it over every transport the server document's
interface.framework names, plus an optional MCP stdio transport.

Example:
  grps serve --server-config server.yaml --inference-config inference.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("mcp", false, "also serve an MCP stdio transport alongside HTTP/gRPC")
	serveCmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	serveCmd.Flags().String("cache-backend", "memory", "idempotency cache backend: memory, redis, none")
	serveCmd.Flags().String("redis-url", "", "Redis URL, used when --cache-backend=redis (or GRPS_REDIS_URL)")

	_ = viper.BindPFlag("log.level", serveCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("cache.backend", serveCmd.Flags().Lookup("cache-backend"))
	_ = viper.BindPFlag("cache.redis_url", serveCmd.Flags().Lookup("redis-url"))
}

func runServe(cmd *cobra.Command, args []string) error {
	serverCfg, err := config.LoadServerFromFile(serverCfgFile)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}
	inferCfg, err := config.LoadInferenceFromFile(inferenceCfgFile)
	if err != nil {
		return fmt.Errorf("load inference config: %w", err)
	}

	log := logging.New(viper.GetString("log.level"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	c, err := buildCache()
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	eng, err := engine.Bootstrap(serverCfg, inferCfg, engine.Options{Log: log, Cache: c, Tracer: tracer})
	if err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Online()
	defer eng.Stop()

	httpAddr, grpcAddr, err := listenAddrs(serverCfg)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         httpAddr,
		Handler:      httpfrontend.NewServer(eng, serverCfgFile, inferenceCfgFile).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpcServerHandle
	if grpcAddr != "" {
		grpcSrv, err = startGRPC(eng, grpcAddr, log)
		if err != nil {
			return err
		}
	}

	var mcpDone chan struct{}
	if mcpEnabled, _ := cmd.Flags().GetBool("mcp"); mcpEnabled {
		mcpDone = make(chan struct{})
		mcpSrv := mcpfrontend.NewServer(eng).MCPServer("grps-core-go", engine.Version)
		go func() {
			defer close(mcpDone)
			if err := server.ServeStdio(mcpSrv); err != nil {
				errCh <- fmt.Errorf("mcp stdio server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("transport error", "error", err)
	}

	eng.Offline()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.stop()
	}

	return nil
}

// grpcServerHandle lets runServe stop the gRPC listener started in
// startGRPC without exporting *grpc.Server machinery from this file.
type grpcServerHandle struct {
	stop func()
}

func startGRPC(eng *engine.Engine, addr string, log interface{ Info(string, ...any) }) (*grpcServerHandle, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpcfrontend.NewServer(eng)
	go func() {
		log.Info("grpc listening", "addr", addr)
		_ = gs.Serve(lis)
	}()
	return &grpcServerHandle{stop: gs.GracefulStop}, nil
}

// listenAddrs derives the http (and, for a dual-port framework, grpc)
// bind addresses from interface.host and interface.port. ValidateServer
// already enforced that port carries one entry for "http" and two
// (comma-separated) for "http+rpcA"/"http+rpcB".
func listenAddrs(cfg *config.ServerConfig) (httpAddr, grpcAddr string, err error) {
	ports := strings.Split(cfg.Interface.Port, ",")
	host := cfg.Interface.Host
	httpAddr = fmt.Sprintf("%s:%s", host, strings.TrimSpace(ports[0]))
	if cfg.Interface.Framework == "http" {
		return httpAddr, "", nil
	}
	if len(ports) != 2 {
		return "", "", fmt.Errorf("interface.port: framework %q requires two ports, got %q", cfg.Interface.Framework, cfg.Interface.Port)
	}
	grpcAddr = fmt.Sprintf("%s:%s", host, strings.TrimSpace(ports[1]))
	return httpAddr, grpcAddr, nil
}

// buildCache constructs the engine's idempotency cache per
// --cache-backend/GRPS_CACHE_BACKEND. "none" leaves the engine without a
// cache, which disables customized_predict_http's replay-on-retry path.
func buildCache() (cache.Cache, error) {
	switch viper.GetString("cache.backend") {
	case "redis":
		cfg := cache.DefaultRedisConfig()
		if url := viper.GetString("cache.redis_url"); url != "" {
			cfg.URL = url
		} else if url := os.Getenv("GRPS_REDIS_URL"); url != "" {
			cfg.URL = url
		}
		return cache.NewRedisCache(cfg)
	case "none":
		return nil, nil
	default:
		return cache.NewMemoryCache(cache.DefaultConfig()), nil
	}
}
