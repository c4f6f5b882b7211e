package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cache "github.com/mxcd/go-lrucache"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	c := cache.NewLocalCache[string, string](&cache.LocalCacheOptions[string]{
		MaxSize: 2,
		Name:    "demo",
		Logger:  logger,
	})
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}()

	c.Set("a", "A", 0)
	c.Set("b", "B", 0)

	// touch a so b becomes least recently used
	if v, ok := c.Get("a"); ok {
		logger.Info("get", zap.String("key", "a"), zap.String("value", v))
	}

	c.Set("c", "C", 0)
	if _, ok := c.Get("b"); !ok {
		logger.Info("b was evicted", zap.Strings("keys", c.Keys()))
	}

	c.Set("ttl", "short", 200*time.Millisecond)
	logger.Info("armed ttl", zap.Strings("keys", c.Keys()), zap.Int("pending", c.PendingExpirations()))

	wait := time.NewTimer(500 * time.Millisecond)
	defer wait.Stop()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		return
	case <-wait.C:
	}
	logger.Info("after ttl", zap.Strings("keys", c.Keys()))

	data, err := c.Serialize()
	if err != nil {
		logger.Fatal("serialize", zap.Error(err))
	}
	logger.Info("snapshot", zap.String("data", data))

	restored, err := cache.Deserialize[string, string](data, &cache.LocalCacheOptions[string]{Logger: logger})
	if err != nil {
		logger.Fatal("deserialize", zap.Error(err))
	}
	logger.Info("restored", zap.Strings("keys", restored.Keys()), zap.Int("maxSize", restored.MaxSize()))
}
