package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtchat/internal/config"
	"rtchat/internal/cryptographic/encryption"
	callRepo "rtchat/internal/repository/call"
	chatRepo "rtchat/internal/repository/chat"
	userRepo "rtchat/internal/repository/user"
	"rtchat/internal/service/broadcast"
	"rtchat/internal/service/call"
	"rtchat/internal/service/chatstore"
	redisSvc "rtchat/internal/service/redis"
	"rtchat/internal/service/registry"
	"rtchat/internal/service/server"
	"rtchat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log.Init(cfg.LogLevel)
	defer log.Sync()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	db := mongoDBClient.Database(cfg.MongoDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := redisSvc.NewRedis(rdb)

	masterKey, err := cfg.MasterKeyBytes()
	if err != nil {
		log.Fatal("load master key failed", zap.Error(err))
	}
	pipeline, err := encryption.NewPipeline(masterKey)
	if err != nil {
		log.Fatal("init encryption pipeline failed", zap.Error(err))
	}

	users := userRepo.NewUserRepo(db)
	calls := callRepo.NewCallRepo(db)
	chats := chatRepo.NewChatRepo(db)

	reg := registry.NewRegistry(cfg.HeartbeatInterval)
	dispatcher := broadcast.NewDispatcher(reg)
	callManager := call.NewManager(calls, reg, cfg.RingTimeout)
	store := chatstore.NewStore(cache, chats, pipeline, chatstore.TTLs{
		Chat:       cfg.ChatCacheTTL,
		ChatList:   cfg.ChatListCacheTTL,
		Attachment: cfg.AttachmentCacheTTL,
	})

	auth := server.NewAuthenticator(cfg.JWTSecret)
	srv := server.NewHttpServer(cfg.ListenAddr, cfg.HeartbeatInterval,
		auth, reg, dispatcher, callManager, store, users)

	done := make(chan struct{})
	go reg.Run(done)
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()
	log.Info("listening", zap.String("addr", cfg.ListenAddr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	close(done)
	reg.Drain()
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
