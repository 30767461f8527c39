package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"sprout-budget-go/internal/api"
	"sprout-budget-go/internal/config"
	"sprout-budget-go/internal/core"
	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/middleware"
	"sprout-budget-go/internal/treestore"
)

func main() {
	// Load a local .env when present; release deployments set the
	// environment directly.
	if strings.ToLower(os.Getenv("GIN_MODE")) != "release" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("could not load .env file: %v", err)
		}
	}

	// --- 1. Initialize Logger (Zap) ---
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Zap logger initialized successfully.")

	// --- 2. Load Application Configuration ---
	appConfig, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to load application configuration", zap.Error(err))
	}
	if strings.ToLower(appConfig.GinMode) == "release" {
		// Production wants structured JSON logs.
		if prod, perr := zap.NewProduction(); perr == nil {
			zapLogger = prod
			defer zapLogger.Sync()
		}
	}
	zapLogger.Info("Application configuration loaded successfully.",
		zap.String("storeBackend", appConfig.StoreBackend),
		zap.String("authBackend", appConfig.AuthBackend))

	// --- 3. Initialize the tree store and identity provider ---
	initCtx, cancelInitCtx := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInitCtx()

	store, provider, err := buildBackends(initCtx, appConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize backends", zap.Error(err))
	}

	// --- 4. Initialize the session registry ---
	sessions := core.NewSessionManager(store, zapLogger, appConfig.SessionIdleTimeout)
	zapLogger.Info("Session registry initialized.",
		zap.Duration("idleTimeout", appConfig.SessionIdleTimeout))

	// --- 5. Setup Gin HTTP Engine ---
	if strings.ToLower(appConfig.GinMode) == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()

	// --- 6. Apply Global Middleware (Order is important) ---
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.CORSMiddleware(appConfig))
	zapLogger.Info("CORS Middleware enabled", zap.String("clientURL", appConfig.ClientURL))

	// --- 7. Setup API Routes ---
	api.SetupRoutes(router, appConfig, zapLogger, provider, sessions)

	// --- 8. Configure and Start HTTP Server ---
	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	zapLogger.Info("Starting HTTP server...", zap.String("address", serverAddr), zap.String("ginMode", gin.Mode()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 9. Graceful Shutdown Handling ---
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	zapLogger.Info("Attempting graceful shutdown of HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown due to error during graceful shutdown", zap.Error(err))
	}

	// Sessions close after the HTTP server stops accepting requests so
	// every in-flight request still sees a live session.
	sessions.Shutdown(shutdownCtx)

	zapLogger.Info("Server exiting gracefully.")
}

// buildBackends wires the configured store and identity provider.
// The memory store and static provider exist for local development and
// tests; production runs both on Firebase.
func buildBackends(ctx context.Context, appConfig *config.Config, logger *zap.Logger) (treestore.Store, identity.Provider, error) {
	var store treestore.Store
	var provider identity.Provider
	var app *firebase.App

	needsFirebase := appConfig.StoreBackend == "firebase" || appConfig.AuthBackend == "firebase"
	if needsFirebase {
		opts, err := firebaseOptions(appConfig)
		if err != nil {
			return nil, nil, err
		}
		app, err = firebase.NewApp(ctx, &firebase.Config{
			ProjectID:   appConfig.FirebaseProjectID,
			DatabaseURL: appConfig.FirebaseDatabaseURL,
		}, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize firebase app: %w", err)
		}
		logger.Info("Firebase Admin SDK initialized.", zap.String("project", appConfig.FirebaseProjectID))
	}

	switch appConfig.StoreBackend {
	case "firebase":
		dbClient, err := app.Database(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize realtime database client: %w", err)
		}
		store = treestore.NewFirebase(dbClient, appConfig.StorePollInterval)
	case "memory":
		logger.Warn("Using the in-memory store; all data is lost on restart.")
		store = treestore.NewMemory()
	}

	switch appConfig.AuthBackend {
	case "firebase":
		authClient, err := app.Auth(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize firebase auth client: %w", err)
		}
		provider = identity.NewFirebase(authClient)
	case "static":
		logger.Warn("Using the static identity provider; tokens come from STATIC_USERS.")
		p, err := identity.NewStatic(strings.Split(appConfig.StaticUsers, ","))
		if err != nil {
			return nil, nil, fmt.Errorf("parse STATIC_USERS: %w", err)
		}
		provider = p
	}

	return store, provider, nil
}

// firebaseOptions resolves credentials from either a file path or an
// inline base64 service account, matching common deployment setups.
func firebaseOptions(appConfig *config.Config) ([]option.ClientOption, error) {
	if appConfig.GoogleApplicationCredentials != "" {
		return []option.ClientOption{option.WithCredentialsFile(appConfig.GoogleApplicationCredentials)}, nil
	}
	if appConfig.FirebaseServiceAccountJSONBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(appConfig.FirebaseServiceAccountJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("decode FIREBASE_SERVICE_ACCOUNT_JSON_BASE64: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(raw)}, nil
	}
	// Fall back to application default credentials.
	return nil, nil
}
