package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/auth"
	"github.com/x402labs/x402-gateway/internal/config"
	"github.com/x402labs/x402-gateway/internal/facilitator"
	"github.com/x402labs/x402-gateway/internal/gate"
	"github.com/x402labs/x402-gateway/internal/proxy"
	"github.com/x402labs/x402-gateway/internal/receipts"
	"github.com/x402labs/x402-gateway/internal/rpc"
	"github.com/x402labs/x402-gateway/internal/server"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Chain RPC ─────────────────────────────────────────────────────────────
	chain, err := rpc.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal("rpc dial failed", zap.Error(err))
	}

	// ── Facilitator client ────────────────────────────────────────────────────
	fac := facilitator.New(cfg.Facilitator.URL,
		facilitator.WithAPIKey(cfg.Facilitator.APIKey),
		facilitator.WithLogger(log.Named("facilitator")),
	)

	// ── Payment server ────────────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		RPC:         chain,
		Facilitator: fac,
		Network:     cfg.Chain.Network,
		PayTo:       cfg.Payment.PayTo,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	// ── Receipt journal (optional) ────────────────────────────────────────────
	var (
		rdb     *redis.Client
		journal *receipts.Journal
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		journal = receipts.NewJournal(rdb, 0, log.Named("receipts"))
	}

	// ── Detector warm-up ──────────────────────────────────────────────────────
	if tokens := cfg.Detector.WarmupTokens(); len(tokens) > 0 {
		addrs := make([]common.Address, 0, len(tokens))
		for _, t := range tokens {
			addrs = append(addrs, common.HexToAddress(t))
		}
		go srv.Detector().Initialize(ctx, addrs)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	resolver := gate.Static{
		Config: server.CreateConfig{
			Asset:             cfg.Payment.Asset,
			MaxAmountRequired: cfg.Payment.Amount,
			Description:       cfg.Payment.Description,
			PaymentType:       cfg.Payment.PaymentType,
			MaxTimeoutSeconds: cfg.Payment.MaxTimeoutSeconds,
		},
		Logger: log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// ── Admin surface (optional) ──────────────────────────────────────────────
	if ops := cfg.Admin.Operators(); len(ops) > 0 {
		det := srv.Detector()
		admin := r.Group("/admin", auth.AdminGuard(ops, rdb))
		admin.GET("/detector/cache", func(c *gin.Context) {
			stats := det.Stats()
			c.JSON(http.StatusOK, gin.H{"entries": stats.Entries, "keys": stats.Keys})
		})
		admin.DELETE("/detector/cache", func(c *gin.Context) {
			var addrs []common.Address
			for _, t := range strings.Split(c.Query("tokens"), ",") {
				if t = strings.TrimSpace(t); t != "" {
					addrs = append(addrs, common.HexToAddress(t))
				}
			}
			det.ClearCache(addrs...)
			c.JSON(http.StatusOK, gin.H{"cleared": true})
		})
	}

	paywall := gate.Middleware(srv, resolver, journal, log)
	if cfg.Upstream.URL != "" {
		target, err := url.Parse(cfg.Upstream.URL)
		if err != nil {
			log.Fatal("invalid upstream url", zap.Error(err))
		}
		forward := proxy.NewHandler(target, log.Named("proxy"))
		// Everything without an explicit route is payment-gated and forwarded.
		r.NoRoute(paywall, forward.Handle)
	} else {
		r.GET("/paid", paywall, func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"payer":  c.GetString(gate.PayerKey),
				"txHash": c.GetString(gate.TxHashKey),
			})
		})
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
