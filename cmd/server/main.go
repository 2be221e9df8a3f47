package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"voxchat-go/internal/config"
	"voxchat-go/internal/handler"
	"voxchat-go/internal/middleware"
	"voxchat-go/internal/orchestrator"
	"voxchat-go/internal/pipeline"
	"voxchat-go/internal/repository"
	"voxchat-go/internal/service"
	"voxchat-go/internal/tools"
	"voxchat-go/pkg/database"
	"voxchat-go/pkg/elevenlabs"
	"voxchat-go/pkg/kafka"
	"voxchat-go/pkg/llm"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/storage"
	"voxchat-go/pkg/token"
	"voxchat-go/pkg/webhook"

	"github.com/gin-gonic/gin"
)

func main() {
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	store, err := storage.NewMinioStore(cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	if err := store.EnsureBucket(context.Background(), cfg.Voice.BucketName); err != nil {
		log.Fatal("MinIO 存储桶初始化失败", err)
	}

	// 仓储层
	userRepo := repository.NewUserRepository(database.DB)
	tokenRepo := repository.NewTokenRepository(database.RDB)
	conversationRepo := repository.NewConversationRepository(database.RDB)
	voiceSessionRepo := repository.NewVoiceSessionRepository(database.DB)
	voiceLinkRepo := repository.NewVoiceLinkRepository(database.RDB)

	// 外部服务客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	voiceClient := elevenlabs.NewClient(cfg.ElevenLabs)
	verifier := webhook.NewVerifier(cfg.Voice.WebhookSecret, cfg.Voice.WebhookTolerance)
	if !verifier.Enabled() {
		log.Warnf("未配置 webhook 密钥，推送通知将不做签名校验")
	}

	// 工具与编排
	searchService := service.NewSearchService(nil)
	registry := tools.MustNewRegistry(tools.DefaultTools(cfg.Tools.DeveloperName, cfg.Tools.DeveloperDescription, searchService)...)
	orch := orchestrator.New(llmClient, registry, cfg.LLM.SystemPrompt)

	// 语音会话对账流水线：已存对象 -> 推送缓存 -> 服务商拉取
	resolver := pipeline.NewAudioResolver(cfg.Voice.ResolveBudget,
		pipeline.NewObjectStoreSource(store, cfg.Voice.BucketName),
		pipeline.NewPushCacheSource(voiceLinkRepo, store, cfg.Voice.BucketName),
		pipeline.NewPullSource(voiceClient, store, cfg.Voice.BucketName, cfg.Voice.RetryAttempts, cfg.Voice.RetryDelay),
	)
	processor := pipeline.NewProcessor(resolver, voiceClient, pipeline.NewLinker(conversationRepo), voiceSessionRepo, cfg.Voice.TitleMaxLen)

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go kafka.NewConsumer(cfg.Kafka, processor, voiceLinkRepo).Run(consumerCtx)

	// 业务服务
	userService := service.NewUserService(userRepo, tokenRepo, jwtManager)
	conversationService := service.NewConversationService(conversationRepo, voiceSessionRepo, voiceClient, store, service.ConversationOptions{
		Bucket:         cfg.Voice.BucketName,
		TitleMaxLen:    cfg.Voice.TitleMaxLen,
		DefaultVoiceID: cfg.ElevenLabs.DefaultVoiceID,
	})
	chatService := service.NewChatService(orch, conversationRepo, cfg.Voice.TitleMaxLen)
	voiceService := service.NewVoiceService(processor, voiceLinkRepo, store, producer, voiceClient, service.VoiceOptions{
		Bucket:         cfg.Voice.BucketName,
		PushCacheTTL:   cfg.Voice.PushCacheTTL,
		DefaultVoiceID: cfg.ElevenLabs.DefaultVoiceID,
	})

	userHandler := handler.NewUserHandler(userService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	chatHandler := handler.NewChatHandler(chatService, userService, jwtManager, tokenRepo)
	voiceHandler := handler.NewVoiceHandler(voiceService, verifier)
	authed := middleware.AuthMiddleware(jwtManager, userService, tokenRepo)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refresh", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
			users.GET("/me", authed, userHandler.GetProfile)
			users.POST("/logout", authed, userHandler.Logout)
		}

		conversations := apiV1.Group("/conversations")
		conversations.Use(authed)
		{
			conversations.GET("", conversationHandler.ListConversations)
			conversations.POST("", conversationHandler.CreateConversation)
			conversations.GET("/:id", conversationHandler.GetConversation)
			conversations.PATCH("/:id/title", conversationHandler.RenameConversation)
			conversations.DELETE("/:id", conversationHandler.DeleteConversation)
			conversations.POST("/:id/messages", chatHandler.SendMessage)
			conversations.POST("/:id/tts", conversationHandler.AddTTS)
			conversations.DELETE("/:id/tts/:audioId", conversationHandler.DeleteTTS)
		}

		// WebSocket 握手无法携带请求头，token 放在路径中由处理器自行校验
		apiV1.GET("/chat/ws/:token", chatHandler.HandleWebsocket)

		voice := apiV1.Group("/voice")
		{
			voice.POST("/webhook", voiceHandler.Webhook)
			voice.POST("/sessions/register", authed, voiceHandler.RegisterSession)
			voice.POST("/sessions", authed, voiceHandler.ProcessSession)
			voice.GET("/voices", authed, voiceHandler.ListVoices)
			voice.POST("/tts", authed, voiceHandler.Synthesize)
		}

		apiV1.POST("/search", authed, handler.NewSearchHandler(searchService).Search)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	stopConsumer()
	log.Info("服务已优雅关闭")
}
