package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/spendflow/transfer-ledger/internal/ledger"
	"github.com/spendflow/transfer-ledger/internal/models"
)

type openAccountRequest struct {
	OwnerID        string          `json:"owner_id"`
	Kind           string          `json:"kind"`
	CardType       string          `json:"card_type"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
}

type cardTransactionRequest struct {
	OwnerID     string          `json:"owner_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

type cardBalanceRequest struct {
	OwnerID string          `json:"owner_id"`
	Delta   decimal.Decimal `json:"delta"`
}

func accountRef(c *fiber.Ctx) (models.AccountRef, error) {
	ref := models.AccountRef{ID: c.Params("id"), Kind: models.AccountKind(c.Params("kind"))}
	if err := models.Validate(ref); err != nil {
		return models.AccountRef{}, err
	}
	return ref, nil
}

func (s *Server) openAccount(c *fiber.Ctx) error {
	var req openAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	account, err := s.ledger.OpenAccount(c.UserContext(), ledger.OpenAccountRequest{
		OwnerID:        req.OwnerID,
		Kind:           models.AccountKind(req.Kind),
		CardType:       models.CardType(req.CardType),
		Name:           req.Name,
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		CreditLimit:    req.CreditLimit,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (s *Server) listAccounts(c *fiber.Ctx) error {
	accounts, err := s.ledger.ListAccounts(c.UserContext(), c.Query("owner_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accounts": orEmpty(accounts)})
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	ref, err := accountRef(c)
	if err != nil {
		return err
	}
	account, err := s.ledger.GetAccount(c.UserContext(), ref)
	if err != nil {
		return err
	}
	return c.JSON(account)
}

func (s *Server) accountEntries(c *fiber.Ctx) error {
	ref, err := accountRef(c)
	if err != nil {
		return err
	}
	entries, err := s.ledger.AccountEntries(c.UserContext(), ref)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"entries": orEmpty(entries)})
}

func (s *Server) createTransfer(c *fiber.Ctx) error {
	var req ledger.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	if key := c.Get(headerIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}

	transfer, err := s.ledger.CreateTransfer(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(transfer)
}

func (s *Server) listTransfers(c *fiber.Ctx) error {
	transfers, err := s.ledger.ListTransfers(c.UserContext(), c.Query("owner_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transfers": orEmpty(transfers)})
}

func (s *Server) getTransfer(c *fiber.Ctx) error {
	transfer, err := s.ledger.GetTransfer(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(transfer)
}

func (s *Server) transferEntries(c *fiber.Ctx) error {
	entries, err := s.ledger.TransferEntries(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"entries": orEmpty(entries)})
}

func (s *Server) recordCardTransaction(c *fiber.Ctx) error {
	var req cardTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	tx, card, err := s.ledger.RecordCardTransaction(c.UserContext(), ledger.CardTransactionRequest{
		OwnerID:     req.OwnerID,
		CardID:      c.Params("id"),
		Type:        models.CardTransactionType(req.Type),
		Amount:      req.Amount,
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": tx, "card": card})
}

func (s *Server) updateCardBalance(c *fiber.Ctx) error {
	var req cardBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	card, err := s.ledger.UpdateCardBalance(c.UserContext(), req.OwnerID, c.Params("id"), req.Delta)
	if err != nil {
		return err
	}
	return c.JSON(card)
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
