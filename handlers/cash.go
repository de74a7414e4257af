package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/portfolio"
)

type CashInput struct {
	Amount *float64 `json:"amount" binding:"required"`
}

type DepositInput struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
	Type   string  `json:"type" binding:"required,oneof=deposit withdrawal"`
	Date   string  `json:"date"`
}

type DepositUpdateInput struct {
	Amount *float64 `json:"amount"`
	Type   *string  `json:"type"`
	Date   *string  `json:"date"`
}

func (h *Handler) GetCash(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"available_cash": s.State().AvailableCash})
}

func (h *Handler) SetCash(c *gin.Context) {
	var input CashInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	if err := s.SetAvailableCash(*input.Amount); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available_cash": s.State().AvailableCash})
}

func (h *Handler) ListDeposits(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash_deposits": s.State().CashDeposits})
}

func (h *Handler) AddDeposit(c *gin.Context) {
	var input DepositInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseDate(input.Date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}

	d, err := s.AddCashDeposit(input.Amount, portfolio.DepositType(input.Type), date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cash_deposit": d, "available_cash": s.State().AvailableCash})
}

func (h *Handler) UpdateDeposit(c *gin.Context) {
	var input DepositUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	patch := portfolio.DepositPatch{Amount: input.Amount}
	if input.Type != nil {
		t := portfolio.DepositType(*input.Type)
		patch.Type = &t
	}
	if input.Date != nil {
		d, err := portfolio.ParseDate(*input.Date)
		if err != nil {
			badRequest(c, err)
			return
		}
		patch.Date = &d
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}

	d, err := s.EditCashDeposit(c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash_deposit": d, "available_cash": s.State().AvailableCash})
}

func (h *Handler) DeleteDeposit(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	if err := s.DeleteCashDeposit(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available_cash": s.State().AvailableCash})
}
