package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"

	tasks "github.com/jacksenechal/scan-mcp/internal/platform/tasks"
)

// Handler exposes the supervisor over HTTP. Pure pass-through: request
// shapes map one-to-one onto service calls, no business logic here.
type Handler struct {
	service *Service
	tasks   *tasks.Client
}

// NewHandler wires the scan routes. tasks may be nil, in which case
// jobs run on background goroutines instead of the queue.
func NewHandler(service *Service, tasks *tasks.Client) *Handler {
	return &Handler{service: service, tasks: tasks}
}

func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req Request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
	}

	var (
		res StartResult
		err error
	)
	if h.tasks != nil {
		res, err = h.service.Enqueue(c.Context(), h.tasks, req)
	} else {
		res, err = h.service.StartAsync(c.Context(), req)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	status, err := h.service.GetStatus(c.Context(), c.Params("jobId"))
	if err != nil {
		return statusError(c, err)
	}
	return c.JSON(status)
}

func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	if err := h.service.Cancel(c.Context(), c.Params("jobId")); err != nil {
		return statusError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	input := ListJobsInput{State: State(c.Query("state"))}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			input.Limit = n
		}
	}
	jobs, err := h.service.List(c.Context(), input)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if jobs == nil {
		jobs = []JobSummary{}
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

func (h *Handler) HandleManifest(c *fiber.Ctx) error {
	runDir, err := h.service.RunDirFor(c.Params("jobId"))
	if err != nil {
		return statusError(c, err)
	}
	return sendJobFile(c, filepath.Join(runDir, ManifestFileName), "application/json")
}

func (h *Handler) HandleEvents(c *fiber.Ctx) error {
	runDir, err := h.service.RunDirFor(c.Params("jobId"))
	if err != nil {
		return statusError(c, err)
	}
	return sendJobFile(c, filepath.Join(runDir, EventsFileName), "application/x-ndjson")
}

func (h *Handler) HandlePage(c *fiber.Ctx) error {
	return h.sendArtifact(c, "page_%04d")
}

func (h *Handler) HandleDocument(c *fiber.Ctx) error {
	return h.sendArtifact(c, "doc_%04d")
}

func (h *Handler) sendArtifact(c *fiber.Ctx, pattern string) error {
	runDir, err := h.service.RunDirFor(c.Params("jobId"))
	if err != nil {
		return statusError(c, err)
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid index"})
	}
	matches, _ := filepath.Glob(filepath.Join(runDir, fmt.Sprintf(pattern, index)+".*"))
	if len(matches) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	return c.SendFile(matches[0])
}

func sendJobFile(c *fiber.Ctx, path, contentType string) error {
	if _, err := os.Stat(path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	c.Set("Content-Type", contentType)
	return c.SendFile(path)
}

func statusError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidJobID):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_job_id"})
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case errors.Is(err, ErrAlreadyTerminal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_cancelled"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
