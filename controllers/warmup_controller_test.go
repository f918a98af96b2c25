package controller

import (
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inboxwarm/models"
	"inboxwarm/utils"
	"inboxwarm/worker"
)

// The start path validates the domain account and lead list before touching
// any mail server, so the error mapping is testable with the real manager
// and real transport adapters.
func setupWarmupApp(t *testing.T) (*fiber.App, *gorm.DB) {
	app, db := setupAccountApp(t)

	manager := worker.NewManager(
		db,
		utils.NewSMTPSender(),
		utils.NewIMAPListener(),
		utils.NewTemplateGenerator(),
		worker.Options{WaitTimeout: time.Second, PollInterval: time.Second},
	)
	wc := NewWarmupController(manager, db, log.New(os.Stdout, "WARMUP-TEST: ", log.LstdFlags))

	warmup := app.Group("/warmup")
	warmup.Post("/start", wc.StartWarmup)
	warmup.Post("/pause", wc.PauseWarmup)
	warmup.Post("/stop", wc.StopWarmup)
	warmup.Get("/status/:domainAccountID", wc.WarmupStatus)
	warmup.Get("/sessions", wc.ListSessions)
	warmup.Get("/sessions/:id/logs", wc.SessionLogs)
	warmup.Get("/logs", wc.RecentLogs)

	return app, db
}

func TestStartWarmupUnknownDomain(t *testing.T) {
	app, _ := setupWarmupApp(t)

	resp, body := doJSON(t, app, "POST", "/warmup/start", map[string]interface{}{
		"domain_account_id": 42,
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestStartWarmupWithoutLeads(t *testing.T) {
	app, _ := setupWarmupApp(t)

	_, created := doJSON(t, app, "POST", "/accounts/domains/", domainPayload("warm@domain.example"))
	id := int(created["data"].(map[string]interface{})["id"].(float64))

	resp, body := doJSON(t, app, "POST", "/warmup/start", map[string]interface{}{
		"domain_account_id": id,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "no lead accounts")
}

func TestStartWarmupRejectsBadRequest(t *testing.T) {
	app, _ := setupWarmupApp(t)

	resp, _ := doJSON(t, app, "POST", "/warmup/start", map[string]interface{}{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/warmup/start", "not an object")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPauseWithoutRunReturnsBadRequest(t *testing.T) {
	app, _ := setupWarmupApp(t)

	_, created := doJSON(t, app, "POST", "/accounts/domains/", domainPayload("warm@domain.example"))
	id := int(created["data"].(map[string]interface{})["id"].(float64))

	resp, body := doJSON(t, app, "POST", "/warmup/pause", map[string]interface{}{
		"domain_account_id": id,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "not running")
}

func TestStopWithoutRunIsNoOp(t *testing.T) {
	app, _ := setupWarmupApp(t)

	_, created := doJSON(t, app, "POST", "/accounts/domains/", domainPayload("warm@domain.example"))
	id := int(created["data"].(map[string]interface{})["id"].(float64))

	resp, body := doJSON(t, app, "POST", "/warmup/stop", map[string]interface{}{
		"domain_account_id": id,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["message"], "No warmup session")
}

func TestWarmupStatusEndpoint(t *testing.T) {
	app, _ := setupWarmupApp(t)

	resp, _ := doJSON(t, app, "GET", "/warmup/status/42", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	_, created := doJSON(t, app, "POST", "/accounts/domains/", domainPayload("warm@domain.example"))
	id := int(created["data"].(map[string]interface{})["id"].(float64))

	resp, body := doJSON(t, app, "GET", fmt.Sprintf("/warmup/status/%d", id), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["completed_today"])
	assert.NotContains(t, data, "active")
}

func TestSessionAndLogListing(t *testing.T) {
	app, db := setupWarmupApp(t)

	// Seed a stored session with history, as a finished run would leave it
	session := models.WarmupSession{
		DomainAccountID:  1,
		SessionDate:      models.Today(),
		Status:           models.SessionCompleted,
		CurrentLeadIndex: 1,
	}
	require.NoError(t, db.Create(&session).Error)
	require.NoError(t, db.Create(&models.MailLogEntry{
		SessionID:   &session.ID,
		FromAddress: "warm@domain.example",
		ToAddress:   "lead1@leads.example",
		MessageID:   "<m1@domain.example>",
		Direction:   models.DirectionSent,
	}).Error)

	resp, body := doJSON(t, app, "GET", "/warmup/sessions", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)

	resp, body = doJSON(t, app, "GET", fmt.Sprintf("/warmup/sessions/%d/logs", session.ID), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	entries := body["data"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "sent", entries[0].(map[string]interface{})["direction"])

	resp, _ = doJSON(t, app, "GET", "/warmup/sessions/999/logs", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, "GET", "/warmup/logs?limit=10", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]interface{}), 1)
}
