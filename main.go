package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/cache"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/typing"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

// eventPublisher adapts the rabbitmq publisher to the observability
// envelope interface; AMQP headers travel inside the envelope instead.
type eventPublisher struct {
	pub rabbitmq.Publisher
}

func (e eventPublisher) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	return e.pub.Publish(ctx, routingKey, message)
}

func main() {
	cfg := config.Load()

	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.WithError(err).Fatal("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to db")
	}
	defer database.Close()

	redisCache := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisCache.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.WithField("mode", rabbitmq.PublisherMode(publisher)).Info("event publisher ready")
	observability.SetPublisher(eventPublisher{pub: publisher})

	emitter := telemetry.NewAuditEmitter(publisher, "audit.messaging", serviceName, cfg.Environment)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	receiptRepo := repositories.NewReceiptRepo(database)
	callRepo := repositories.NewCallRepo(database)
	syncRepo := repositories.NewSyncRepo(database)
	relationsRepo := repositories.NewRelationsRepo(database)

	tracker := typing.NewTracker(cfg.TypingActiveWindow, cfg.TypingSweepInterval)
	hub := ws.NewHub()

	chatHandler := handlers.NewChatHandler(chatRepo, receiptRepo, relationsRepo, redisCache)
	messageHandler := handlers.NewMessageHandler(chatRepo, messageRepo, receiptRepo, relationsRepo, redisCache, hub, cfg)
	callHandler := handlers.NewCallHandler(callRepo, chatRepo, relationsRepo, hub, emitter, cfg)
	typingHandler := handlers.NewTypingHandler(chatRepo, tracker, hub)
	syncHandler := handlers.NewSyncHandler(syncRepo, chatRepo, messageRepo, tracker, redisCache, messageHandler)

	sessionWS := ws.NewSessionHandler(hub, func(token string) (int, error) {
		return middleware.ValidateToken(token, cfg.JWTSecret)
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	auth := middleware.AuthMiddleware(cfg.JWTSecret)

	router.POST("/chats", auth, chatHandler.CreateChat)
	router.GET("/chats", auth, chatHandler.ListChats)
	router.GET("/chats/:chat_id", auth, chatHandler.GetChat)
	router.POST("/chats/:chat_id/archive", auth, chatHandler.Archive)
	router.POST("/chats/:chat_id/unarchive", auth, chatHandler.Unarchive)
	router.POST("/chats/:chat_id/unread/repair", auth, chatHandler.RepairUnread)

	router.GET("/chats/:chat_id/messages", auth, messageHandler.ListMessages)
	router.POST("/chats/:chat_id/messages", auth, messageHandler.PostMessage)
	router.POST("/chats/:chat_id/read", auth, messageHandler.MarkReadBatch)
	router.PATCH("/messages/:message_id", auth, messageHandler.EditMessage)
	router.DELETE("/messages/:message_id", auth, messageHandler.DeleteMessage)
	router.POST("/messages/:message_id/react", auth, messageHandler.React)
	router.GET("/messages/:message_id/receipts", auth, messageHandler.ListReceipts)

	router.GET("/chats/:chat_id/typing", auth, typingHandler.ActiveTypers)
	router.POST("/chats/:chat_id/typing/start", auth, typingHandler.StartTyping)
	router.POST("/chats/:chat_id/typing/stop", auth, typingHandler.StopTyping)

	router.POST("/calls/start", auth, callHandler.Start)
	router.GET("/calls/:call_id", auth, callHandler.Get)
	router.POST("/calls/:call_id/accept", auth, callHandler.Accept)
	router.POST("/calls/:call_id/reject", auth, callHandler.Reject)
	router.POST("/calls/:call_id/end", auth, callHandler.End)
	router.POST("/calls/:call_id/join", auth, callHandler.Join)
	router.POST("/calls/:call_id/leave", auth, callHandler.Leave)

	router.GET("/sync", auth, syncHandler.Reconcile)
	router.POST("/sync/offline", auth, syncHandler.IngestOffline)

	router.GET("/ws", sessionWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	go runTypingSweep(ctx, tracker, cfg.TypingSweepInterval)
	go runCallSweep(ctx, callRepo, hub, cfg.CallSweepInterval)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown failed")
	}
}

// runTypingSweep periodically expires stale typing entries.
func runTypingSweep(ctx context.Context, tracker *typing.Tracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := tracker.Sweep()
			observability.ObserveSweep("typing", expired)
			if expired > 0 {
				log.WithField("expired", expired).Debug("typing sweep")
			}
		}
	}
}

// runCallSweep times out calls that rang past their deadline and notifies
// their participants. Errors are logged and the next tick retries.
func runCallSweep(ctx context.Context, callRepo repositories.CallRepository, hub *ws.Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := callRepo.SweepTimeouts(ctx, time.Now())
			if err != nil {
				log.WithError(err).Error("call sweep failed")
				continue
			}
			observability.ObserveSweep("calls", len(expired))
			for i := range expired {
				call := expired[i]
				participants, err := callRepo.Participants(ctx, call.ID)
				if err != nil {
					log.WithError(err).WithField("call_id", call.ID).Warn("call sweep fan-out skipped")
					continue
				}
				ids := make([]int, 0, len(participants))
				for _, p := range participants {
					ids = append(ids, p.UserID)
				}
				hub.SendToUsers(ids, models.ChatEvent{Type: "call_missed", Call: &call})
			}
		}
	}
}
