// Package login реализует HTTP-обработчик входа оператора.
//
// Handler принимает логин и пароль, проверяет их через сервис аутентификации
// и возвращает JWT для доступа к защищённым конечным точкам.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	auth "github.com/starlight-labs/starshop/internal/services/auth"
)

// Request — учётные данные оператора.
type Request struct {
	Operator string `json:"operator" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Handler управляет HTTP-запросами на вход оператора.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс сервиса аутентификации.
type Service interface {
	Login(ctx context.Context, operatorName, rawPassword string) (string, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход оператора
// @Description Проверяет логин и пароль оператора, возвращает JWT.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Учётные данные"
// @Success 200 {object} response.Response "Токен выдан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Неверные учётные данные"
// @Router /login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	token, err := h.service.Login(r.Context(), req.Operator, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Warn("invalid credentials", "operator", req.Operator)
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, response.Error("invalid credentials"))
			return
		}
		log.Error("failed to login", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not login"))
		return
	}

	log.Info("operator logged in", "operator", req.Operator)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{"token": token}))
}
