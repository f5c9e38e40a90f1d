package device

import (
	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	prober Prober
}

func NewHandler(prober Prober) *Handler {
	return &Handler{prober: prober}
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	devices, err := h.prober.ListDevices(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if devices == nil {
		devices = []Device{}
	}
	return c.JSON(fiber.Map{"devices": devices})
}

func (h *Handler) HandleOptions(c *fiber.Ctx) error {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "device_id is required"})
	}
	opts, err := h.prober.GetOptions(c.Context(), deviceID)
	if err != nil {
		// Probe failure is a partial result by contract, not a crash.
		return c.JSON(Options{})
	}
	return c.JSON(opts)
}
