// dofbotcheck verifies the orchestrator's collaborators are reachable before a
// match: redis, the archive database, the Stockfish binary, and the vision and
// robot services. Exit code is non-zero when any required check fails.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/huahua9185/dofbot-chess/internal/config"
	"github.com/huahua9185/dofbot-chess/internal/gateway/engine"
)

const checkTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	check := func(name string, fn func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			failed++
			fmt.Printf("FAIL %-10s %v\n", name, err)
			return
		}
		fmt.Printf("ok   %s\n", name)
	}

	check("redis", func(ctx context.Context) error {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		return rdb.Ping(ctx).Err()
	})

	if cfg.DatabaseURL != "" {
		check("postgres", func(ctx context.Context) error {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PingContext(ctx)
		})
	} else {
		fmt.Println("skip postgres (no DATABASE_URL)")
	}

	check("stockfish", func(ctx context.Context) error {
		move, err := engine.Probe(ctx, cfg.StockfishPath)
		if err != nil {
			return err
		}
		if len(move) < 4 {
			return fmt.Errorf("engine returned malformed move %q", move)
		}
		return nil
	})

	check("vision", func(context.Context) error { return checkHTTP(cfg.VisionBaseURL + "/healthz") })
	check("robot", func(context.Context) error { return checkHTTP(cfg.RobotBaseURL + "/healthz") })

	if failed > 0 {
		fmt.Printf("%d check(s) failed\n", failed)
		os.Exit(1)
	}
}

func checkHTTP(url string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	if err := fasthttp.DoTimeout(req, resp, checkTimeout); err != nil {
		return err
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("status %d", status)
	}
	return nil
}
