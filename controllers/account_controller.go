package controller

import (
	"errors"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"inboxwarm/config"
	"inboxwarm/models"
	"inboxwarm/utils"
)

const (
	ErrInvalidAccountID   = "Invalid account ID"
	ErrAccountNotFound    = "Account not found"
	ErrInvalidRequestBody = "Invalid request body"
	ErrDuplicateEmail     = "An account with this email already exists"
)

// MailboxRequest is the shared payload for creating domain and lead
// accounts. Secrets arrive in plaintext and are encrypted before storage.
type MailboxRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`

	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"required,gt=0"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	SMTPSecure   *bool  `json:"smtp_secure"`

	IMAPHost     string `json:"imap_host" validate:"required"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password" validate:"required"`
	IMAPSecure   *bool  `json:"imap_secure"`
}

// MailboxUpdateRequest carries the optional fields of an update. Absent
// fields keep their stored values; secrets are re-encrypted when present.
type MailboxUpdateRequest struct {
	Name         *string `json:"name"`
	Email        *string `json:"email" validate:"omitempty,email"`
	SMTPHost     *string `json:"smtp_host"`
	SMTPPort     *int    `json:"smtp_port" validate:"omitempty,gt=0"`
	SMTPUsername *string `json:"smtp_username"`
	SMTPPassword *string `json:"smtp_password"`
	SMTPSecure   *bool   `json:"smtp_secure"`
	IMAPHost     *string `json:"imap_host"`
	IMAPPort     *int    `json:"imap_port" validate:"omitempty,gt=0"`
	IMAPUsername *string `json:"imap_username"`
	IMAPPassword *string `json:"imap_password"`
	IMAPSecure   *bool   `json:"imap_secure"`
}

func (r *MailboxRequest) toMailbox() (models.Mailbox, error) {
	encryptedSMTP, err := utils.Encrypt(r.SMTPPassword)
	if err != nil {
		return models.Mailbox{}, err
	}
	encryptedIMAP, err := utils.Encrypt(r.IMAPPassword)
	if err != nil {
		return models.Mailbox{}, err
	}

	mb := models.Mailbox{
		Name:         r.Name,
		Email:        strings.ToLower(strings.TrimSpace(r.Email)),
		SMTPHost:     r.SMTPHost,
		SMTPPort:     r.SMTPPort,
		SMTPUsername: r.SMTPUsername,
		SMTPPassword: encryptedSMTP,
		SMTPSecure:   true,
		IMAPHost:     r.IMAPHost,
		IMAPPort:     993,
		IMAPUsername: r.IMAPUsername,
		IMAPPassword: encryptedIMAP,
		IMAPSecure:   true,
	}
	if r.SMTPSecure != nil {
		mb.SMTPSecure = *r.SMTPSecure
	}
	if r.IMAPPort != 0 {
		mb.IMAPPort = r.IMAPPort
	}
	if r.IMAPSecure != nil {
		mb.IMAPSecure = *r.IMAPSecure
	}
	return mb, nil
}

// applyTo merges the update into the stored mailbox, encrypting any new
// secrets.
func (r *MailboxUpdateRequest) applyTo(mb *models.Mailbox) error {
	if r.Name != nil {
		mb.Name = *r.Name
	}
	if r.Email != nil {
		mb.Email = strings.ToLower(strings.TrimSpace(*r.Email))
	}
	if r.SMTPHost != nil {
		mb.SMTPHost = *r.SMTPHost
	}
	if r.SMTPPort != nil {
		mb.SMTPPort = *r.SMTPPort
	}
	if r.SMTPUsername != nil {
		mb.SMTPUsername = *r.SMTPUsername
	}
	if r.SMTPPassword != nil {
		encrypted, err := utils.Encrypt(*r.SMTPPassword)
		if err != nil {
			return err
		}
		mb.SMTPPassword = encrypted
	}
	if r.SMTPSecure != nil {
		mb.SMTPSecure = *r.SMTPSecure
	}
	if r.IMAPHost != nil {
		mb.IMAPHost = *r.IMAPHost
	}
	if r.IMAPPort != nil {
		mb.IMAPPort = *r.IMAPPort
	}
	if r.IMAPUsername != nil {
		mb.IMAPUsername = *r.IMAPUsername
	}
	if r.IMAPPassword != nil {
		encrypted, err := utils.Encrypt(*r.IMAPPassword)
		if err != nil {
			return err
		}
		mb.IMAPPassword = encrypted
	}
	if r.IMAPSecure != nil {
		mb.IMAPSecure = *r.IMAPSecure
	}
	return nil
}

func parseMailboxRequest(c *fiber.Ctx) (*MailboxRequest, error) {
	var req MailboxRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody, err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkmail.ValidateFormat(req.Email); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email address", err)
	}
	return &req, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

// ========= Domain accounts =========

func CreateDomainAccount(c *fiber.Ctx) error {
	req, err := parseMailboxRequest(c)
	if req == nil {
		return err
	}

	mb, err := req.toMailbox()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	account := models.DomainAccount{Mailbox: mb, Status: models.DomainStatusIdle}
	if err := config.DB.Create(&account).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.ErrorResponse(c, fiber.StatusConflict, ErrDuplicateEmail, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create domain account", err)
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(account))
}

func ListDomainAccounts(c *fiber.Ctx) error {
	var accounts []models.DomainAccount
	if err := config.DB.Order("created_at ASC, id ASC").Find(&accounts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch domain accounts", err)
	}
	for i := range accounts {
		accounts[i].Sanitize()
	}
	return c.JSON(utils.SuccessResponse(accounts))
}

func GetDomainAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	var account models.DomainAccount
	if err := config.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch domain account", err)
	}

	account.Sanitize()
	return c.JSON(utils.SuccessResponse(account))
}

func UpdateDomainAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	var req MailboxUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody, err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var account models.DomainAccount
	if err := config.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch domain account", err)
	}

	if err := req.applyTo(&account.Mailbox); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	if err := config.DB.Save(&account).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.ErrorResponse(c, fiber.StatusConflict, ErrDuplicateEmail, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update domain account", err)
	}

	account.Sanitize()
	return c.JSON(utils.SuccessResponse(account))
}

func DeleteDomainAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	result := config.DB.Delete(&models.DomainAccount{}, id)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete domain account", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
	}

	return c.JSON(utils.MessageResponse("Domain account deleted"))
}

// VerifyDomainAccount runs the syntax/MX/WHOIS checks against a stored
// domain account's address.
func VerifyDomainAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	var account models.DomainAccount
	if err := config.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch domain account", err)
	}

	return c.JSON(utils.SuccessResponse(utils.VerifyMailbox(account.Email)))
}

// ========= Lead accounts =========

func CreateLeadAccount(c *fiber.Ctx) error {
	req, err := parseMailboxRequest(c)
	if req == nil {
		return err
	}

	mb, err := req.toMailbox()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	account := models.LeadAccount{Mailbox: mb}
	if err := config.DB.Create(&account).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.ErrorResponse(c, fiber.StatusConflict, ErrDuplicateEmail, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead account", err)
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(account))
}

func ListLeadAccounts(c *fiber.Ctx) error {
	var accounts []models.LeadAccount
	if err := config.DB.Order("created_at ASC, id ASC").Find(&accounts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead accounts", err)
	}
	for i := range accounts {
		accounts[i].Sanitize()
	}
	return c.JSON(utils.SuccessResponse(accounts))
}

func GetLeadAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	var account models.LeadAccount
	if err := config.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead account", err)
	}

	account.Sanitize()
	return c.JSON(utils.SuccessResponse(account))
}

func UpdateLeadAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	var req MailboxUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody, err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var account models.LeadAccount
	if err := config.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead account", err)
	}

	if err := req.applyTo(&account.Mailbox); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	if err := config.DB.Save(&account).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.ErrorResponse(c, fiber.StatusConflict, ErrDuplicateEmail, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead account", err)
	}

	account.Sanitize()
	return c.JSON(utils.SuccessResponse(account))
}

func DeleteLeadAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID, nil)
	}

	result := config.DB.Delete(&models.LeadAccount{}, id)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead account", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound, nil)
	}

	return c.JSON(utils.MessageResponse("Lead account deleted"))
}
