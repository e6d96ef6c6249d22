package cmd

import (
	"context"
	"database/sql"
	"net"

	"github.com/cliphive/ms-go-account/app/controller"
	"github.com/cliphive/ms-go-account/app/middleware"
	"github.com/cliphive/ms-go-account/app/repository"
	"github.com/cliphive/ms-go-account/app/service"
	"github.com/cliphive/ms-go-account/app/storage"
	"github.com/cliphive/ms-go-account/app/token"
	"github.com/cliphive/ms-go-account/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP (Echo) server for the user-account service.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	uploader, err := storage.NewS3Uploader(context.Background(), storage.Config{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		UploadTimeout:   cfg.UploadTimeout,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build object storage client")
	}

	userRepo := repository.NewUserRepository(db)
	tokens := token.NewManager(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	accountService := service.NewAccountService(userRepo, tokens, uploader, cfg)

	startHTTPServer(cfg, accountService)
}

func startHTTPServer(cfg *config.Config, accountService service.AccountService) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	accountController := controller.NewAccountController(accountService, cfg)
	authMiddleware := middleware.NewAuthMiddleware(accountService)
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)

	users := e.Group("/users")

	public := users.Group("")
	public.Use(rateLimit.Limit)
	public.POST("/register", accountController.Register)
	public.POST("/login", accountController.Login)
	public.POST("/refresh", accountController.Refresh)

	protected := users.Group("")
	protected.Use(authMiddleware.RequireAuth)
	protected.POST("/logout", accountController.Logout)
	protected.POST("/change-password", accountController.ChangePassword)
	protected.GET("/me", accountController.Me)
	protected.PATCH("/update-details", accountController.UpdateDetails)
	protected.PATCH("/update-avatar", accountController.UpdateAvatar)
	protected.PATCH("/update-cover-image", accountController.UpdateCoverImage)

	httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}
