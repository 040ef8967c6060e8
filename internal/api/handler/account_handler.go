package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/reels-scheduler/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// AccountHandler lists the accounts jobs can be published to
type AccountHandler struct {
	logger   *slog.Logger
	accounts AccountLister
	token    string
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(deps *Dependencies) *AccountHandler {
	return &AccountHandler{
		logger:   deps.Logger,
		accounts: deps.Accounts,
		token:    deps.AccountsToken,
	}
}

// ListAccounts handles GET /api/v1/accounts
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	if h.accounts == nil || h.token == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Account listing is not configured",
		})
		return
	}

	accounts, err := h.accounts.ListAccounts(c.Request.Context(), h.token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.ListAccountsResponse{Accounts: make([]dto.AccountDTO, len(accounts))}
	for i, account := range accounts {
		resp.Accounts[i] = dto.NewAccountDTO(account)
	}

	c.JSON(http.StatusOK, resp)
}
