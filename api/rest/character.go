package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kasuganosora/friendserver/cache"
	"github.com/kasuganosora/friendserver/config"
	mw "github.com/kasuganosora/friendserver/middleware"
	"github.com/kasuganosora/friendserver/model"
	"gorm.io/gorm"
)

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	db    *gorm.DB
	cache cache.Cache
	sec   config.SecurityConfig
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig) *CharacterHandler {
	return &CharacterHandler{db: db, cache: c, sec: sec}
}

// List handles GET /api/characters. Lists the caller's characters.
func (h *CharacterHandler) List(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var chars []model.Character
	if err := h.db.Where("account_id = ?", accountID).
		Order("created_at ASC").Find(&chars).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

type createCharacterRequest struct {
	Name string `json:"name" binding:"required,min=2,max=32"`
}

// Create handles POST /api/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	char := model.Character{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      req.Name,
	}
	if err := h.db.Create(&char).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "character name already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

// Select handles POST /api/characters/:id/select. It binds the character to
// a fresh token; the WebSocket endpoint only accepts character-bound tokens.
func (h *CharacterHandler) Select(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	charID := c.Param("id")

	var char model.Character
	err := h.db.Where("id = ? AND account_id = ?", charID, accountID).First(&char).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := mw.GenerateToken(accountID, char.ID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Set(ctx, "session:"+token, strconv.FormatInt(accountID, 10), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"character": char,
	})
}
