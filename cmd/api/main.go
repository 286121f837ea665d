package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stratix-backend/internal/config"
	"stratix-backend/internal/interfaces/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load: " + err.Error())
	}
	app, db, rdb, scheduler, err := router.CreateApp(cfg)
	if err != nil {
		panic("app create: " + err.Error())
	}

	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			panic("postgres: get DB: " + err.Error())
		}
		if err := sqlDB.Ping(); err != nil {
			panic("postgres connection failed: " + err.Error())
		}
		fmt.Println("Postgres connected")
	}
	if rdb != nil {
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			panic("Redis connection failed: " + err.Error())
		}
		fmt.Println("Redis connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if scheduler != nil {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
		_ = app.Shutdown()
	}()

	port := cfg.Port
	if port == "" {
		port = "8888"
	}
	fmt.Printf("Server running at http://localhost:%s\n", port)
	fmt.Printf("Health check: http://localhost:%s/health/json\n", port)
	fmt.Println("---")

	if err := app.Listen(":" + port); err != nil {
		panic(err)
	}
}
