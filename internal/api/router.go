package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(apiHandler *APIHandler, allowedOrigins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(AccessLog(log.Named("http")))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(CORS(allowedOrigins))

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/auth/signup", apiHandler.SignupHandler)
		r.Post("/auth/login", apiHandler.LoginHandler)
		r.Post("/auth/logout", apiHandler.LogoutHandler)
		r.Post("/ai", apiHandler.AskHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware)

			// Chatbot routes
			r.Post("/chatbot/create", apiHandler.CreateChatbotHandler)
			r.Get("/chatbot/get", apiHandler.ListChatbotsHandler)
			r.Get("/chatbot/getByCreator", apiHandler.ListChatbotsByCreatorHandler)
			r.Get("/chatbot/getByChatbotName", apiHandler.GetChatbotByNameHandler)
			r.Delete("/chatbot/delete", apiHandler.DeleteChatbotHandler)
			r.Post("/chatbot/{name}/chat", apiHandler.ChatHandler)

			// Message routes
			r.Get("/messages", apiHandler.ListMessagesHandler)
			r.Post("/messages", apiHandler.AppendMessageHandler)
		})
	})

	return r
}
