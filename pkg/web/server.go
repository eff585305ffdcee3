// Package web is the HTTP surface: health, the REST provider endpoints,
// artifact serving, static files and the websocket voice upgrade.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/coliblanco/voicebridge/pkg/artifact"
	"github.com/coliblanco/voicebridge/pkg/chat"
	"github.com/coliblanco/voicebridge/pkg/gateway"
	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/tts"
)

// Server is the HTTP and websocket front end.
type Server struct {
	app  *fiber.App
	port string

	stt      stt.Provider
	tts      tts.Provider
	chat     chat.Provider
	store    artifact.Store
	registry *session.Registry
	gateway  *gateway.Gateway

	staticDir string
	language  string
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithStaticDir serves the directory at the root path.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithLanguage sets the default transcription language for the REST
// endpoint.
func WithLanguage(language string) Option {
	return func(s *Server) { s.language = language }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger.With("component", "web") }
}

// NewServer wires the routes over the providers and the voice gateway.
func NewServer(port string, sttp stt.Provider, ttsp tts.Provider, chatp chat.Provider,
	store artifact.Store, registry *session.Registry, gw *gateway.Gateway, opts ...Option) *Server {

	s := &Server{
		port:     port,
		stt:      sttp,
		tts:      ttsp,
		chat:     chatp,
		store:    store,
		registry: registry,
		gateway:  gw,
		logger:   slog.Default().With("component", "web"),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicebridge",
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/audio/:name", s.handleAudio)

	api := app.Group("/api")
	api.Post("/transcribe", s.handleTranscribe)
	api.Post("/tts", s.handleTTS)
	api.Post("/chat", s.handleChat)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if s.registry.Len() >= s.registry.Capacity() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "server busy",
			})
		}
		return c.Next()
	})
	app.Get("/ws/voice", websocket.New(s.gateway.Handle))

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	s.app = app
	return s
}

// App exposes the fiber app for testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start blocks serving on the configured port.
func (s *Server) Start() error {
	s.logger.Info("listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown gracefully drains connections.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
