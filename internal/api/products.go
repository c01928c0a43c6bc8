package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderq/internal/database"
	"orderq/internal/order"
)

type ProductRequest struct {
	ID    int64           `json:"product_id" validate:"gte=0"`
	Name  string          `json:"name" validate:"required,max=255"`
	Price decimal.Decimal `json:"price"`
	Stock int64           `json:"stock" validate:"gte=0"`
}

func (s *server) createProduct(c *fiber.Ctx) error {
	var req ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationMessage(err)})
	}
	if !req.Price.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "price must be greater than 0"})
	}

	p, err := s.Products.CreateProduct(c.UserContext(), order.Product{
		ID:        req.ID,
		Name:      req.Name,
		UnitPrice: req.Price.Round(2),
		Stock:     req.Stock,
	})
	if errors.Is(err, database.ErrDuplicateProduct) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		s.Log.Error("failed to insert product", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to insert product"})
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}
