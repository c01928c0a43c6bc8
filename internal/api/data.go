package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type dataRequest struct {
	Data json.RawMessage `json:"data"`
}

func (s *server) createDataJob(c *fiber.Ctx) error {
	var req dataRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.Data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "data is required"})
	}
	id, err := s.Dispatcher.EnqueueData(c.UserContext(), req.Data)
	if err != nil {
		s.Log.Error("failed to enqueue data job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to enqueue task"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"task_id": id})
}

func (s *server) dataStatus(c *fiber.Ctx) error {
	st, err := s.Dispatcher.DataStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		s.Log.Error("failed to read task status", zap.String("task_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read task status"})
	}
	return c.JSON(st)
}
