package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dastarkhan/food-api/internal/catalog"
	"github.com/dastarkhan/food-api/internal/config"
	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/events"
	"github.com/dastarkhan/food-api/internal/router"
	"github.com/dastarkhan/food-api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	queries := database.New(pool)

	// Catalog cache is optional: without REDIS_URL every lookup hits Postgres.
	var cache catalog.Cacher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		opts.DialTimeout = 2 * time.Second
		opts.ReadTimeout = 500 * time.Millisecond
		opts.WriteTimeout = 500 * time.Millisecond
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unavailable, catalog cache disabled: %v", err)
		} else {
			cache = rdb
			log.Println("Connected to redis")
		}
	}
	cat := catalog.New(queries, cache, cfg.CatalogCacheTTL)

	hub := ws.NewHub()
	go hub.Run()

	publishers := []events.Publisher{events.NewHubPublisher(hub)}
	if cfg.RabbitMQURL != "" {
		amqpPub, err := events.DialAMQP(cfg.RabbitMQURL, cfg.EventsExchange)
		if err != nil {
			log.Printf("WARNING: rabbitmq unavailable, order events stay local: %v", err)
		} else {
			defer amqpPub.Close()
			publishers = append(publishers, amqpPub)
		}
	}
	notifier := events.NewFanout(publishers...)

	r := router.New(cfg, queries, pool, hub, cat, notifier)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
}
