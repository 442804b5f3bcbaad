package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/api/handlers"
	"github.com/postpilotapp/postpilot/internal/api/middleware"
	job "github.com/postpilotapp/postpilot/internal/jobs"
	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/publisher"
	"github.com/postpilotapp/postpilot/internal/queue"
	"github.com/postpilotapp/postpilot/internal/repository"
	"github.com/postpilotapp/postpilot/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)

	facebookService := service.NewFacebookService(*cfg)
	adapters := map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter:   service.NewTwitterService(*cfg),
		models.PlatformLinkedin:  service.NewLinkedinService(*cfg),
		models.PlatformFacebook:  facebookService,
		models.PlatformInstagram: service.NewInstagramService(*cfg, facebookService),
		models.PlatformTiktok:    service.NewTiktokService(*cfg),
		models.PlatformYoutube:   service.NewYoutubeService(*cfg),
	}

	vault := publisher.NewTokenVault(cfg.EncryptionKey, connectionRepo, adapters)
	dispatcher := publisher.NewDispatcher(adapters, vault)
	processor := publisher.NewProcessor(postRepo, connectionRepo, dispatcher)

	authService := service.NewAuthService(*cfg, userRepo)
	r2Service := service.NewR2Service(*cfg)
	postService := service.NewPostService(postRepo, r2Service)
	platformService := service.NewPlatformService(*cfg, connectionRepo, adapters)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	platform := handlers.NewPlatformHandler(platformService, *cfg)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	api.Get("/auth/:platform", platform.AddSocialAccount)
	api.Get("/accounts", platform.ListSocialAccounts)
	api.Post("/accounts/remove", platform.DeleteSocialAccount)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/remove", post.RemovePost)

	pub := handlers.NewPublisherHandler(processor, client)
	api.Post("/publisher/run", pub.RunNow)
	api.Post("/publisher/enqueue", pub.Enqueue)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(connectionRepo, vault)

	// queue
	queueW := queue.NewQueue(processor)

	c := cron.New()
	c.AddFunc("@every 00h01m00s", func() {
		if err := queue.EnqueueRun(client); err != nil {
			log.Printf("Failed to enqueue publish run: %v", err)
		}
	})
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishRun, queueW.HandlePublishRunTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
