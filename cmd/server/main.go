package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cowrite/cowrite/internal/auth"
	"github.com/cowrite/cowrite/internal/config"
	"github.com/cowrite/cowrite/internal/relay"
	"github.com/cowrite/cowrite/internal/server"
	"github.com/cowrite/cowrite/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	var st store.Store = store.NewMemory()
	var users store.UserStore = st.(*store.Memory)
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal(err)
		}
		if err := mc.Ping(ctx, nil); err != nil {
			log.Fatal(err)
		}
		ms := store.NewMongo(mc.Database(cfg.MongoDB))
		st, users = ms, ms
		log.Printf("using mongo at %s", cfg.MongoURI)
	}

	var rel *relay.Relay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal(err)
		}
		rel = relay.New(rdb, uuid.NewString())
		log.Printf("relaying through redis at %s", cfg.RedisAddr)
	}

	srv := server.New(st, auth.NewService([]byte(cfg.JWTSecret), users), server.Options{
		Relay:             rel,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LogRetention:      cfg.LogRetention,
		CompactInterval:   cfg.CompactInterval,
	})
	defer srv.Close()

	log.Fatal(srv.Run(cfg.Addr))
}
