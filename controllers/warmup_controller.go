package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"inboxwarm/store"
	"inboxwarm/utils"
	"inboxwarm/worker"
)

const (
	ErrInvalidDomainAccountID = "Invalid domain account ID"
	ErrInvalidSessionID       = "Invalid session ID"
	ErrSessionNotFound        = "Session not found"
)

// WarmupController fronts the warm-up manager and the stored session and
// mail-log history.
type WarmupController struct {
	Manager  *worker.Manager
	Sessions *store.SessionStore
	MailLog  *store.MailLog
	Logger   *log.Logger
}

func NewWarmupController(manager *worker.Manager, db *gorm.DB, logger *log.Logger) *WarmupController {
	return &WarmupController{
		Manager:  manager,
		Sessions: store.NewSessionStore(db),
		MailLog:  store.NewMailLog(db),
		Logger:   logger,
	}
}

type warmupRequest struct {
	DomainAccountID uint `json:"domain_account_id"`
}

func (wc *WarmupController) parseWarmupRequest(c *fiber.Ctx) (uint, error) {
	var req warmupRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody, err)
	}
	if req.DomainAccountID == 0 {
		return 0, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidDomainAccountID, nil)
	}
	return req.DomainAccountID, nil
}

// managerError maps the manager's sentinel errors onto HTTP statuses.
func (wc *WarmupController) managerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, worker.ErrDomainNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, err.Error(), nil)
	case errors.Is(err, worker.ErrNoLeads),
		errors.Is(err, worker.ErrNotRunning),
		errors.Is(err, worker.ErrCompletedToday),
		errors.Is(err, worker.ErrAlreadyRunning),
		errors.Is(err, worker.ErrSessionActive):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	default:
		wc.Logger.Printf("warmup control error: %v", err)
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Warmup control failed", err)
	}
}

// StartWarmup launches today's warm-up session for a domain account.
func (wc *WarmupController) StartWarmup(c *fiber.Ctx) error {
	id, err := wc.parseWarmupRequest(c)
	if id == 0 {
		return err
	}

	session, err := wc.Manager.StartWarmup(id)
	if err != nil {
		return wc.managerError(c, err)
	}
	return c.JSON(utils.SuccessResponse(session))
}

// PauseWarmup suspends a live run; the session stays resumable.
func (wc *WarmupController) PauseWarmup(c *fiber.Ctx) error {
	id, err := wc.parseWarmupRequest(c)
	if id == 0 {
		return err
	}

	session, err := wc.Manager.Pause(id)
	if err != nil {
		return wc.managerError(c, err)
	}
	return c.JSON(utils.SuccessResponse(session))
}

// ResumeWarmup picks a paused session back up at its stored lead index.
func (wc *WarmupController) ResumeWarmup(c *fiber.Ctx) error {
	id, err := wc.parseWarmupRequest(c)
	if id == 0 {
		return err
	}

	session, err := wc.Manager.Resume(id)
	if err != nil {
		return wc.managerError(c, err)
	}
	return c.JSON(utils.SuccessResponse(session))
}

// StopWarmup terminally fails today's session. Stopping with nothing to
// stop is a successful no-op.
func (wc *WarmupController) StopWarmup(c *fiber.Ctx) error {
	id, err := wc.parseWarmupRequest(c)
	if id == 0 {
		return err
	}

	session, err := wc.Manager.Stop(id)
	if err != nil {
		return wc.managerError(c, err)
	}
	if session == nil {
		return c.JSON(utils.MessageResponse("No warmup session to stop"))
	}
	return c.JSON(utils.SuccessResponse(session))
}

// WarmupStatus reports live progress plus today's stored session.
func (wc *WarmupController) WarmupStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("domainAccountID")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidDomainAccountID, nil)
	}

	status, err := wc.Manager.Status(uint(id))
	if err != nil {
		return wc.managerError(c, err)
	}
	return c.JSON(utils.SuccessResponse(status))
}

// ListSessions returns stored sessions newest first, optionally filtered by
// domain account.
func (wc *WarmupController) ListSessions(c *fiber.Ctx) error {
	domainAccountID := utils.ParseUint(c.Query("domain_account_id"))

	sessions, err := wc.Sessions.ListSessions(domainAccountID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sessions", err)
	}
	return c.JSON(utils.SuccessResponse(sessions))
}

// SessionLogs returns a session's mail-log entries in send order.
func (wc *WarmupController) SessionLogs(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidSessionID, nil)
	}

	if _, err := wc.Sessions.FindByID(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrSessionNotFound, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch session", err)
	}

	entries, err := wc.MailLog.BySession(uint(id))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch mail log", err)
	}
	return c.JSON(utils.SuccessResponse(entries))
}

// RecentLogs returns the newest mail-log entries across all sessions.
func (wc *WarmupController) RecentLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	entries, err := wc.MailLog.Recent(limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch mail log", err)
	}
	return c.JSON(utils.SuccessResponse(entries))
}
