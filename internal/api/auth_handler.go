package api

import (
	"context"
	"log"
	"net/http"

	"github.com/vdavid/webmail/internal/auth"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/models"
)

type AuthHandler struct {
	repo db.Repository
}

func NewAuthHandler(repo db.Repository) *AuthHandler {
	return &AuthHandler{repo: repo}
}

func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Println("AuthHandler: No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	isSetupComplete, err := h.checkSetupComplete(ctx, email)
	if err != nil {
		log.Printf("AuthHandler: Failed to check setup status: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := models.AuthStatusResponse{
		IsAuthenticated: true,
		IsSetupComplete: isSetupComplete,
	}

	WriteJSONResponse(w, response)
}

func (h *AuthHandler) checkSetupComplete(ctx context.Context, email string) (bool, error) {
	userID, err := h.repo.GetOrCreateUser(ctx, email)
	if err != nil {
		return false, err
	}

	return h.repo.UserSettingsExist(ctx, userID)
}
