package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/avdeevramil/market-backend/internal/http/handlers/common"
	"github.com/avdeevramil/market-backend/internal/http/response"
	"github.com/avdeevramil/market-backend/internal/models"
	"github.com/avdeevramil/market-backend/internal/repository"
	"github.com/avdeevramil/market-backend/internal/validation"
)

// ProfileHandler отдаёт и обновляет данные учётной записи.
// Остальная витрина маркетплейса потребляет отсюда только identity и роль.
type ProfileHandler struct {
	accounts *repository.AccountRepository
}

func NewProfileHandler(accounts *repository.AccountRepository) *ProfileHandler {
	return &ProfileHandler{accounts: accounts}
}

// Me обрабатывает GET /profile.
func (h *ProfileHandler) Me(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{"account": account}
	if account.Role == models.RoleSeller {
		if profile, err := h.accounts.GetSellerProfile(c.Request.Context(), accountID); err == nil {
			payload["seller_profile"] = profile
		}
	}

	response.Success(c, payload)
}

// UpdateSellerProfile обрабатывает PUT /profile/seller.
func (h *ProfileHandler) UpdateSellerProfile(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	if common.CurrentRole(c) != models.RoleSeller {
		response.Forbidden(c, "профиль продавца доступен только продавцам")
		return
	}

	var req struct {
		ShopName    string  `json:"shop_name" binding:"required"`
		Description *string `json:"description"`
		Phone       *string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateLength("название магазина", req.ShopName,
		validation.MinShopNameLength, validation.MaxShopNameLength); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	profile := &models.SellerProfile{
		AccountID:   accountID,
		ShopName:    req.ShopName,
		Description: req.Description,
		Phone:       req.Phone,
	}
	if err := h.accounts.UpsertSellerProfile(c.Request.Context(), profile); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"seller_profile": profile})
}
