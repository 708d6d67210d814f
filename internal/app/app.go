// Package app wires configuration, storage, gateways and the HTTP server
// into a running API process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/handler"
	"github.com/xenking/bazaar/internal/notify"
	"github.com/xenking/bazaar/internal/payment"
	"github.com/xenking/bazaar/internal/repository"
	"github.com/xenking/bazaar/pkg/health"
	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

const serviceName = "bazaar-api"

// Run creates all dependencies, serves HTTP until ctx is cancelled, then
// drains traffic and pending notifications.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	meter := m.MeterProvider().Meter(serviceName)
	tracer := m.TracerProvider().Tracer(serviceName)

	var sender notify.Sender = notify.NewLogSender(lg.Named("notify"))
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig(cfg.SMTP))
	}
	dispatcher, err := notify.NewDispatcher(sender, lg.Named("notify"), meter, notify.DispatcherConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.Queue,
	})
	if err != nil {
		return errors.Wrap(err, "create notification dispatcher")
	}
	defer dispatcher.Close()

	healthSvc := health.New(lg.Named("health"))
	healthSvc.Register(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.PingCheck(pool)})
	healthSvc.Register(health.Check{Name: "notifications", Kind: health.Readiness, Func: health.BacklogCheck(dispatcher.Backlog, cfg.Notify.Queue)})
	healthSvc.Register(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.GoroutineCountCheck(10000)})
	healthSvc.Register(health.Check{Name: "gc", Kind: health.Liveness, Func: health.GCMaxPauseCheck(time.Second)})
	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	offerRepo := repository.NewOfferRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)

	// Payment gateways share one instrumented client.
	gatewayClient := &http.Client{
		Timeout: cfg.Gateway.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}
	payments := payment.NewManager(
		payment.NewEsewa(payment.EsewaConfig{
			ProductCode: cfg.Esewa.ProductCode,
			SecretKey:   cfg.Esewa.SecretKey,
			FormURL:     cfg.Esewa.FormURL,
			StatusURL:   cfg.Esewa.StatusURL,
			FrontendURL: cfg.FrontendURL,
		}, gatewayClient),
		payment.NewKhalti(payment.KhaltiConfig{
			SecretKey:   cfg.Khalti.SecretKey,
			BaseURL:     cfg.Khalti.BaseURL,
			WebsiteURL:  cfg.Khalti.WebsiteURL,
			FrontendURL: cfg.FrontendURL,
		}, gatewayClient),
	)

	// Domain services.
	orderService, err := order.NewService(order.Deps{
		Products: productRepo,
		Carts:    cartRepo,
		Coupons:  coupon.NewRepoValidator(couponRepo),
		Orders:   orderRepo,
		Payments: payments,
		Notifier: dispatcher,
		Meter:    meter,
		Tracer:   tracer,
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	cartService := cart.NewService(productRepo, cartRepo)

	h := handler.New(handler.Deps{
		Orders:   orderService,
		Carts:    cartService,
		Products: productRepo,
		Coupons:  couponRepo,
		Offers:   offerRepo,
		Tokens:   handler.NewTokens(cfg.JWT.Secret),
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Gateway verification runs inside the request.
		WriteTimeout:   cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        newHTTPHandler(ctx, cfg, h, healthSvc, zctx.From(ctx), m.TracerProvider(), m.MeterProvider()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	healthSvc.SetReady(true)

	return g.Wait()
}

// newHTTPHandler mounts probes and the API on one router behind the shared
// middleware stack.
func newHTTPHandler(
	ctx context.Context,
	cfg *Config,
	api *handler.Handler,
	probes *health.Health,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) http.Handler {
	router := chi.NewRouter()
	router.Use(httpmiddleware.LogRequests())
	router.Get("/livez", probes.LiveEndpoint)
	router.Get("/readyz", probes.ReadyEndpoint)
	api.Routes(router)

	return httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument(serviceName, tp, mp),
	)
}
