package main

import (
	"context"
	"flag"
	"time"

	"github.com/Berkay2002/rsa-messenger/internal/repository/social"
	"github.com/Berkay2002/rsa-messenger/internal/repository/user"
	redisSvc "github.com/Berkay2002/rsa-messenger/internal/service/redis"
	"github.com/Berkay2002/rsa-messenger/internal/service/server"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "listen address")
	mongoURI := flag.String("mongo", "mongodb://localhost:27017", "MongoDB URI")
	dbName := flag.String("db", "rsa_messenger", "MongoDB database name")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	mongoDBClient, err := initMongo(*mongoURI)
	if err != nil {
		log.Fatal("connect to MongoDB failed", zap.Error(err))
	}

	db := mongoDBClient.Database(*dbName)

	rdb := redis.NewClient(&redis.Options{
		Addr:     *redisAddr,
		Password: "", // no password by default
		DB:       0,  // use default DB
	})

	redisService := redisSvc.NewRedis(rdb)

	userRepo := user.NewUserRepo(db)
	socialRepo := social.NewSocialRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("create user indexes failed", zap.Error(err))
	}
	if err := socialRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("create social indexes failed", zap.Error(err))
	}
	cancel()

	s := server.NewHttpServer(*addr, userRepo, socialRepo, redisService)
	log.Info("directory server listening", zap.String("addr", *addr))
	if err := s.Run(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
