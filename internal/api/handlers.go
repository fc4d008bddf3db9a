package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/core"
	"chatbotmaker.dev/chatbot-maker/internal/store"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type APIHandler struct {
	accounts *core.AccountService
	chatbots *core.ChatbotService
	messages *core.MessageService
	chat     *core.ChatService
	health   Pinger
	validate *validator.Validate
	log      *zap.Logger
}

func NewAPIHandler(accounts *core.AccountService, chatbots *core.ChatbotService, messages *core.MessageService,
	chat *core.ChatService, health Pinger, log *zap.Logger) *APIHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &APIHandler{
		accounts: accounts,
		chatbots: chatbots,
		messages: messages,
		chat:     chat,
		health:   health,
		validate: v,
		log:      log.Named("api"),
	}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err, "message")
		return
	}

	token, err := h.accounts.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err, "message")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"message": "User created successfully", "token": token})
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err, "err")
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Unknown users get 400 like a bad password.
		if core.KindOf(err) == core.KindNotFound {
			Error(w, http.StatusBadRequest, "err", core.MessageOf(err, "User does not exist"))
			return
		}
		h.writeServiceError(w, err, "err")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"token": token, "message": "User logged in successfully"})
}

type LogoutRequest struct {
	Token string `json:"token"`
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if r.Body != http.NoBody && r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeServiceError(w, err, "err")
			return
		}
	}
	if req.Token == "" {
		req.Token = bearerToken(r)
	}

	if err := h.accounts.Logout(r.Context(), req.Token); err != nil {
		h.writeServiceError(w, err, "err")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "User logged out successfully"})
}

type CreateChatbotRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Context string `json:"context" validate:"required"`
}

func (h *APIHandler) CreateChatbotHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())

	var req CreateChatbotRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err, "err")
		return
	}

	bot, err := h.chatbots.Upsert(r.Context(), email, req.Name, req.Context)
	if err != nil {
		h.writeServiceError(w, err, "err")
		return
	}
	JSON(w, http.StatusCreated, bot)
}

func (h *APIHandler) ListChatbotsHandler(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.chatbots.ListAll(r.Context()))
}

func (h *APIHandler) ListChatbotsByCreatorHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())
	JSON(w, http.StatusOK, h.chatbots.ListByOwner(r.Context(), email))
}

func (h *APIHandler) GetChatbotByNameHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())
	bot, err := h.chatbots.FindByName(r.Context(), email, r.URL.Query().Get("name"))
	if err != nil {
		h.writeServiceError(w, err, "err")
		return
	}
	JSON(w, http.StatusOK, bot)
}

type DeleteChatbotRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) DeleteChatbotHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())

	name := r.URL.Query().Get("name")
	if name == "" && r.Body != http.NoBody && r.ContentLength != 0 {
		var req DeleteChatbotRequest
		if err := h.decode(r, &req); err != nil {
			h.writeServiceError(w, err, "err")
			return
		}
		name = req.Name
	}

	deleted, err := h.chatbots.Delete(r.Context(), email, name)
	if err != nil {
		h.writeServiceError(w, err, "err")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "err", "Chatbot not found or unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Chatbot deleted successfully"})
}

type ChatRequest struct {
	Text string `json:"text" validate:"required"`
}

type ChatResponse struct {
	Response    CandidatesResponse `json:"response"`
	UserMessage *store.Message     `json:"userMessage"`
	BotMessage  *store.Message     `json:"botMessage"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())
	name := chi.URLParam(r, "name")

	var req ChatRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err, "err")
		return
	}

	res, err := h.chat.Converse(r.Context(), email, name, req.Text)
	if err != nil {
		h.writeServiceError(w, err, "err")
		return
	}
	JSON(w, http.StatusOK, ChatResponse{
		Response:    newCandidatesResponse(res.Reply),
		UserMessage: res.UserMessage,
		BotMessage:  res.BotMessage,
	})
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())
	name := r.URL.Query().Get("chatbotName")
	if strings.TrimSpace(name) == "" {
		Error(w, http.StatusBadRequest, "err", "chatbotName is required")
		return
	}
	JSON(w, http.StatusOK, h.messages.List(r.Context(), name, email))
}

type AppendMessageRequest struct {
	ChatbotName string `json:"chatbotName" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=user bot"`
	Text        string `json:"text" validate:"required"`
}

func (h *APIHandler) AppendMessageHandler(w http.ResponseWriter, r *http.Request) {
	email := UserEmailFromContext(r.Context())

	var req AppendMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err, "err")
		return
	}

	msg, err := h.messages.Append(r.Context(), req.ChatbotName, email, req.Role, req.Text)
	if err != nil {
		h.writeServiceError(w, err, "err")
		return
	}
	JSON(w, http.StatusCreated, msg)
}

type AskRequest struct {
	Text                string      `json:"text"`
	Context             string      `json:"context"`
	ConversationHistory []core.Turn `json:"conversationHistory"`
}

// CandidatesResponse is the reply envelope the web client reads.
type CandidatesResponse struct {
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	Content CandidateContent `json:"content"`
}

type CandidateContent struct {
	Parts []CandidatePart `json:"parts"`
}

type CandidatePart struct {
	Text string `json:"text"`
}

func newCandidatesResponse(text string) CandidatesResponse {
	return CandidatesResponse{Candidates: []Candidate{{Content: CandidateContent{Parts: []CandidatePart{{Text: text}}}}}}
}

func (h *APIHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err, "error")
		return
	}

	reply, err := h.chat.Ask(r.Context(), core.AskInput{
		Text:    req.Text,
		Context: req.Context,
		History: req.ConversationHistory,
	})
	if err != nil {
		h.writeServiceError(w, err, "error")
		return
	}
	JSON(w, http.StatusOK, map[string]CandidatesResponse{"response": newCandidatesResponse(reply)})
}
