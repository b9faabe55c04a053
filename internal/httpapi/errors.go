package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spendflow/transfer-ledger/internal/ledger"
	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

const transferFailedMessage = "transfer failed, please try again"

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		verr   *ledger.ValidationError
		failed *ledger.TransferFailedError
		ferr   *fiber.Error
	)
	switch {
	case errors.As(err, &ferr):
		return ferr.Code
	case errors.As(err, &verr):
		return fiber.StatusBadRequest
	case errors.As(err, &failed):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, storage.ErrInsufficientFunds), errors.Is(err, storage.ErrCreditLimitExceeded):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// handleError writes the JSON error body. Store failures are logged and
// reported without their cause.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error()}

	var verr *ledger.ValidationError
	var failed *ledger.TransferFailedError
	switch {
	case errors.As(err, &verr):
		body["field"] = verr.Field
		body["error"] = verr.Reason
	case errors.As(err, &failed):
		body["error"] = transferFailedMessage
		body["transfer_id"] = failed.TransferID
		body["status"] = failed.Status
	case status == fiber.StatusInternalServerError:
		s.logger.Log(c.UserContext(), log.LevelError, "request failed",
			log.String("path", c.Path()), log.Err(err))
		body["error"] = "internal error"
	}

	return c.Status(status).JSON(body)
}

func badBody(err error) error {
	return &models.ValidationError{Reason: "malformed request body: " + err.Error()}
}
