package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/authstate"
	"github.com/dockside/warehouse/backend/feedback"
	"github.com/dockside/warehouse/backend/gate"
	"github.com/dockside/warehouse/backend/httpx"
	"github.com/dockside/warehouse/backend/identityfeed"
	"github.com/dockside/warehouse/backend/internal/config"
	"github.com/dockside/warehouse/backend/internal/logging"
	"github.com/dockside/warehouse/backend/rbac"
	"github.com/dockside/warehouse/backend/receiving"
	"github.com/dockside/warehouse/backend/routes"
	"github.com/dockside/warehouse/backend/warehouse"
	"github.com/dockside/warehouse/backend/web"
)

const requestTimeout = 60 * time.Second

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := applySchema(ctx, pool, cfg); err != nil {
			return err
		}
	}

	if cfg.SessionSecretIsDev {
		logger.Warn("SESSION_SECRET not set, using development fallback")
	}
	sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionCookieSecure, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("configure sessions: %w", err)
	}

	policy, err := auth.NewDomainPolicy(cfg.AllowedDomains, cfg.AllowedPatterns, cfg.RequireVerifiedEmail)
	if err != nil {
		return err
	}

	var (
		feed     authstate.Feed
		notifier feedback.Notifier = feedback.NewLogNotifier(logger.Named("issues"))
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		feed = identityfeed.NewRedis(client, logger.Named("identityfeed"))
		notifier = feedback.Notifiers{notifier, feedback.NewRedisNotifier(client, cfg.IssueChannel)}
		logger.Info("identity feed on redis", zap.String("addr", cfg.RedisAddr))
	} else {
		feed = identityfeed.NewHub()
		logger.Info("identity feed in process")
	}

	accounts := rbac.NewStore(pool)
	resolver := rbac.NewResolver(accounts, cfg.SuperAdminEmails)
	enforcer := rbac.NewEnforcer(resolver, logger.Named("rbac"), rbac.WithPolicy(policy))

	// The verify endpoint accepts provider ID tokens once discovery has
	// produced a verifier, so it reads the validator late.
	var validator auth.Validator = sessions
	authHandler, err := auth.NewHandler(ctx,
		auth.Config{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		},
		accounts, sessions, policy,
		auth.WithPublisher(feed),
		auth.WithLogger(logger.Named("auth")),
		auth.WithValidator(auth.ValidatorFunc(func(ctx context.Context, creds auth.Credentials) auth.Result {
			return validator.Validate(ctx, creds)
		})),
	)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	if verifier := authHandler.Verifier(); verifier != nil {
		validator = auth.AnyOf(sessions, auth.NewIDTokenValidator(verifier, "oidc"))
	}

	table, err := routes.LoadTable(cfg.RoutesFile)
	if err != nil {
		return err
	}

	eval := authstate.NewEvaluator(policy, resolver, logger.Named("authstate"))
	guard := authstate.NewGuard(eval, sessions, logger.Named("authstate"))
	stream := authstate.NewStreamHandler(eval, feed, cfg.WSOriginPatterns, logger.Named("authstate"))

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.Requests(logger.Named("http")),
		middleware.Recoverer,
	)
	router.Use(gate.New(table, validator, sessions.CookieName(), logger.Named("gate")).Middleware)

	router.Route("/api", func(api chi.Router) {
		api.Use(auth.Authenticator(validator, sessions.CookieName()))

		// Streams outlive the request timeout.
		api.Get("/auth/stream", stream.ServeHTTP)

		api.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/health", health(pool))

			authRoutes := authHandler.Routes()
			authRoutes.Get("/session", guard.Session)
			r.Mount("/auth", authRoutes)

			r.Mount("/warehouse", warehouse.NewHandler(warehouse.NewStore(pool), logger.Named("warehouse")).Routes(enforcer))
			r.Mount("/receiving", receiving.NewHandler(receiving.NewStore(pool), logger.Named("receiving")).Routes(enforcer))
			r.Mount("/feedback", feedback.NewHandler(feedback.NewStore(pool), notifier, logger.Named("feedback")).Routes(enforcer))
			r.Mount("/admin/users", rbac.NewHandler(accounts, feed, logger.Named("rbac")).Routes(enforcer))
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		web.NewHandler(guard, logger.Named("web")).Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownGrace))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func health(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
