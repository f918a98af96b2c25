package controller

import (
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"inboxwarm/worker"
)

// progressFrame is one WS update for a single domain account.
type progressFrame struct {
	DomainAccountID  uint   `json:"domain_account_id"`
	CurrentLeadIndex int    `json:"current_lead_index"`
	TotalLeads       int    `json:"total_leads"`
	Percent          int    `json:"percent"`
	Status           string `json:"status"`
}

// HandleWarmupProgressWS streams live progress for one domain account until
// the client goes away. The client opens with {"domain_account_id": N}.
func HandleWarmupProgressWS(manager *worker.Manager) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			DomainAccountID uint `json:"domain_account_id"`
		}
		if err := c.ReadJSON(&input); err != nil {
			log.Printf("Error reading WS subscribe message: %v", err)
			return
		}
		if input.DomainAccountID == 0 {
			_ = c.WriteJSON(map[string]string{"error": "domain_account_id is required"})
			return
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			status, err := manager.Status(input.DomainAccountID)
			if err != nil {
				_ = c.WriteJSON(map[string]string{"error": err.Error()})
				return
			}

			frame := progressFrame{DomainAccountID: input.DomainAccountID}
			switch {
			case status.Active != nil:
				frame.CurrentLeadIndex = status.Active.CurrentLeadIndex
				frame.TotalLeads = status.Active.TotalLeads
				if frame.TotalLeads > 0 {
					frame.Percent = frame.CurrentLeadIndex * 100 / frame.TotalLeads
				}
				frame.Status = "running"
				if status.Active.IsPaused {
					frame.Status = "paused"
				}
			case status.Session != nil:
				frame.CurrentLeadIndex = status.Session.CurrentLeadIndex
				frame.Status = status.Session.Status
				if status.CompletedToday {
					frame.Percent = 100
				}
			default:
				frame.Status = "idle"
			}

			if err := c.WriteJSON(frame); err != nil {
				return
			}
			if frame.Status == "completed" || frame.Status == "failed" {
				return
			}
		}
	}
}
