package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/adapters/documents"
	"github.com/lumenkb/voicebridge/adapters/llm"
	"github.com/lumenkb/voicebridge/adapters/mongo"
	"github.com/lumenkb/voicebridge/adapters/stt"
	"github.com/lumenkb/voicebridge/adapters/tts"
	"github.com/lumenkb/voicebridge/domain/repositories"
	"github.com/lumenkb/voicebridge/internal/api"
	"github.com/lumenkb/voicebridge/internal/websocket"
	"github.com/lumenkb/voicebridge/usecase"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Document tools back onto the in-memory store until the real
	// knowledge-base client lands.
	store := documents.NewMemoryStore(seedDocuments()...)
	tools := usecase.NewToolGateway(logger)
	if err := usecase.RegisterDocumentTools(tools, store); err != nil {
		logger.Fatal("Failed to register document tools", zap.Error(err))
	}

	pipeline := buildPipeline(tools, logger)
	archive, transcripts, mongoClient := buildArchive(logger)
	if mongoClient != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Close(ctx)
		}()
	}

	// Initialize WebSocket hub
	bridgeConfig := websocket.DefaultConfig()
	if raw := os.Getenv("PIPELINE_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			logger.Fatal("Invalid PIPELINE_TIMEOUT", zap.String("value", raw), zap.Error(err))
		}
		bridgeConfig.PipelineTimeout = timeout
	}
	hub := websocket.NewHub(pipeline, tools, archive, bridgeConfig, logger)
	go hub.Run()

	// Initialize API routes
	api.InitRoutes(e, hub, transcripts, logger)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Voice bridge started", zap.String("port", port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildPipeline assembles the agent pipeline from whatever credentials are
// present. Without a Gemini key the scripted pipeline keeps the protocol
// exercisable end to end.
func buildPipeline(tools *usecase.ToolGateway, logger *zap.Logger) repositories.AgentPipeline {
	geminiConfig := llm.NewGeminiConfigFromEnv()
	if geminiConfig.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using scripted pipeline")
		return llm.NewScriptedPipeline(nil, logger)
	}

	var recognizer repositories.SpeechRecognizer
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		recognizer = stt.NewGoogleRecognizer(logger)
	} else {
		logger.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, using mock recognizer")
		recognizer = stt.NewMockRecognizer(logger)
	}

	var synth repositories.SpeechSynthesizer
	ttsConfig := tts.NewElevenLabsConfigFromEnv()
	if ttsConfig.APIKey != "" {
		var err error
		synth, err = tts.NewElevenLabsTTS(ttsConfig, logger)
		if err != nil {
			logger.Fatal("Failed to create ElevenLabs synthesizer", zap.Error(err))
		}
	} else {
		logger.Warn("ELEVEN_LABS_API_KEY not set, using mock synthesizer")
		synth = tts.NewMockSynthesizer(logger)
	}

	pipeline, err := llm.NewGeminiPipeline(geminiConfig, recognizer, synth, tools, logger)
	if err != nil {
		logger.Fatal("Failed to create Gemini pipeline", zap.Error(err))
	}
	return pipeline
}

// buildArchive connects the MongoDB transcript archive when MONGODB_URI is
// set. Without it sessions simply skip archiving.
func buildArchive(logger *zap.Logger) (repositories.TranscriptArchive, repositories.TranscriptReader, *mongo.Client) {
	mongoConfig := mongo.NewConfigFromEnv()
	if mongoConfig.URI == "" {
		logger.Warn("MONGODB_URI not set, transcript archiving disabled")
		return nil, nil, nil
	}

	client, err := mongo.NewClient(mongoConfig, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	archive := mongo.NewTranscriptArchive(client.Database)
	return archive, archive, client
}

// seedDocuments is the development corpus behind the document tools.
func seedDocuments() []repositories.Document {
	return []repositories.Document{
		{
			ID:      "doc-welcome",
			Title:   "Welcome Guide",
			Content: "Welcome to the workspace. Use voice or text to search, read, and flag documents.",
		},
		{
			ID:      "doc-sla",
			Title:   "Service Level Agreement",
			Content: "The platform guarantees 99.9% uptime measured monthly, excluding scheduled maintenance windows.",
		},
		{
			ID:      "doc-onboarding",
			Title:   "Onboarding Checklist",
			Content: "New members should review the welcome guide, set up their profile, and join the weekly sync.",
		},
	}
}
