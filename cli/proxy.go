package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/always-cache/respcache/admin"
	"github.com/always-cache/respcache/cache"
	"github.com/always-cache/respcache/proxy"
	"github.com/always-cache/respcache/rfc9111"
)

var (
	proxyAddrFlag             string
	proxyAdminFlag            string
	proxyCacheFlag            bool
	proxyProviderFlag         string
	proxyCapacityFlag         int
	proxyHeuristicFlag        time.Duration
	proxyTimeoutFlag          time.Duration
	proxyRequireCacheCtrlFlag bool
	proxyBypassFlag           []string
	proxyOTLPEndpointFlag     string
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the caching proxy",
	Long: `Run the caching forward proxy.

Each client connection carries one request. The origin is taken from the request's Host
field. Responses that may be cached are kept in an LRU cache; stale entries are
revalidated with If-Modified-Since.

Flags override the values of the --config file.`,
	Example: `  # Cache up to 10 responses, listen on :8080
  respcache proxy

  # Keep 100 responses in SQLite, serve the admin API on :9090
  respcache proxy --provider sqlite --capacity 100 --admin :9090

  # Never cache the API
  respcache proxy --bypass 'example.com/api/**'`,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	proxyCmd.Flags().StringVar(&proxyAddrFlag, "addr", ":8080", "Address to listen on")
	proxyCmd.Flags().StringVar(&proxyAdminFlag, "admin", "", "Address of the admin API (disabled if empty)")
	proxyCmd.Flags().BoolVar(&proxyCacheFlag, "cache", true, "Enable caching")
	proxyCmd.Flags().StringVar(&proxyProviderFlag, "provider", "memory", "Cache provider: memory or sqlite")
	proxyCmd.Flags().IntVar(&proxyCapacityFlag, "capacity", cache.DefaultCapacity, "Number of responses to keep")
	proxyCmd.Flags().DurationVar(&proxyHeuristicFlag, "heuristic-lifetime", 0, "Freshness lifetime of responses without max-age (0: never stale)")
	proxyCmd.Flags().DurationVar(&proxyTimeoutFlag, "timeout", proxy.DefaultTimeout, "Deadline of one exchange")
	proxyCmd.Flags().BoolVar(&proxyRequireCacheCtrlFlag, "require-cache-control", false, "Only store responses with a Cache-Control field")
	proxyCmd.Flags().StringSliceVar(&proxyBypassFlag, "bypass", nil, "Host and path patterns that skip the cache")
	proxyCmd.Flags().StringVar(&proxyOTLPEndpointFlag, "otlp-endpoint", "", "OTLP gRPC endpoint for metrics (disabled if empty)")
}

// proxyConfig merges the config file with the flags set on cmd.
func proxyConfig(cmd *cobra.Command) (ProxyConfig, error) {
	pc := ProxyConfig{
		Addr:                proxyAddrFlag,
		Admin:               proxyAdminFlag,
		Provider:            proxyProviderFlag,
		Capacity:            proxyCapacityFlag,
		DisableCache:        !proxyCacheFlag,
		HeuristicLifetime:   proxyHeuristicFlag,
		Timeout:             proxyTimeoutFlag,
		RequireCacheControl: proxyRequireCacheCtrlFlag,
		Bypass:              proxyBypassFlag,
		OTLPEndpoint:        proxyOTLPEndpointFlag,
	}
	if configFilenameFlag == "" {
		return pc, nil
	}

	config, err := getConfig(configFilenameFlag)
	if err != nil {
		return pc, fmt.Errorf("cannot read config: %w", err)
	}
	fc := config.Proxy
	pc.Rules = fc.Rules
	flags := cmd.Flags()
	if fc.Addr != "" && !flags.Changed("addr") {
		pc.Addr = fc.Addr
	}
	if fc.Admin != "" && !flags.Changed("admin") {
		pc.Admin = fc.Admin
	}
	if fc.Provider != "" && !flags.Changed("provider") {
		pc.Provider = fc.Provider
	}
	if fc.Capacity != 0 && !flags.Changed("capacity") {
		pc.Capacity = fc.Capacity
	}
	if fc.DisableCache && !flags.Changed("cache") {
		pc.DisableCache = true
	}
	if fc.HeuristicLifetime != 0 && !flags.Changed("heuristic-lifetime") {
		pc.HeuristicLifetime = fc.HeuristicLifetime
	}
	if fc.Timeout != 0 && !flags.Changed("timeout") {
		pc.Timeout = fc.Timeout
	}
	if fc.RequireCacheControl && !flags.Changed("require-cache-control") {
		pc.RequireCacheControl = true
	}
	if len(fc.Bypass) > 0 && !flags.Changed("bypass") {
		pc.Bypass = fc.Bypass
	}
	if fc.OTLPEndpoint != "" && !flags.Changed("otlp-endpoint") {
		pc.OTLPEndpoint = fc.OTLPEndpoint
	}
	return pc, nil
}

func newProvider(pc ProxyConfig) (cache.Provider, error) {
	if pc.DisableCache {
		return nil, nil
	}
	switch pc.Provider {
	case "", "memory":
		return cache.NewMemCache(pc.Capacity), nil
	case "sqlite":
		return cache.NewSQLiteCache(pc.Capacity)
	default:
		return nil, fmt.Errorf("unknown cache provider %q", pc.Provider)
	}
}

// setupMetrics installs a meter provider exporting to endpoint over OTLP gRPC.
// The returned function flushes and stops it.
func setupMetrics(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("cannot create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", proxy.DefaultName),
			attribute.String("service.version", Version),
		)),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

func runProxy(cmd *cobra.Command, args []string) error {
	pc, err := proxyConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pc.OTLPEndpoint != "" {
		shutdown, err := setupMetrics(ctx, pc.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("Could not flush metrics")
			}
		}()
		log.Info().Str("endpoint", pc.OTLPEndpoint).Msg("Exporting metrics")
	}

	provider, err := newProvider(pc)
	if err != nil {
		return err
	}
	if provider != nil {
		defer provider.Close()
	} else {
		log.Warn().Msg("Caching disabled")
	}

	p, err := proxy.New(proxy.Config{
		Cache:               provider,
		Timeout:             pc.Timeout,
		HeuristicLifetime:   pc.HeuristicLifetime,
		RequireCacheControl: pc.RequireCacheControl,
		Bypass:              pc.Bypass,
		Rules:               pc.Rules,
	})
	if err != nil {
		return err
	}

	if pc.Admin != "" {
		srv := &http.Server{
			Addr:              pc.Admin,
			Handler:           admin.NewRouter(admin.Config{Cache: provider, Evaluator: rfc9111.Evaluator{DefaultCacheable: true}}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Msgf("Admin API listening on %s", pc.Admin)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin API stopped")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	if provider != nil {
		log.Debug().Str("provider", pc.Provider).Int("capacity", pc.Capacity).Msg("Cache ready")
	}
	return p.ListenAndServe(ctx, pc.Addr)
}
