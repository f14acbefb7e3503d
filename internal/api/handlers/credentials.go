package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

// CredentialHandler handles credential lifecycle and exports
type CredentialHandler struct {
	credentials CredentialService
	logger      *zap.Logger
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(credentials CredentialService, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		credentials: credentials,
		logger:      logger,
	}
}

// GetCredential returns a credential, with certificate details on ?detail=true
// @Router /api/v1/credentials/{id} [get]
func (h *CredentialHandler) GetCredential(c *gin.Context) {
	detail, err := detailQuery(c)
	if err != nil {
		respondError(c, h.logger, "Invalid request", err)
		return
	}

	view, err := h.credentials.Get(c.Request.Context(), c.Param("id"), detail)
	if err != nil {
		respondError(c, h.logger, "Failed to get credential", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GenerateCredential issues a new credential for a client
// @Router /api/v1/admin/clients/{id}/credentials [post]
func (h *CredentialHandler) GenerateCredential(c *gin.Context) {
	view, err := h.credentials.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to generate credential", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// ImportCredentialRequest carries externally issued PEM material
type ImportCredentialRequest struct {
	CertificatePEM string     `json:"certificate_pem" binding:"required"`
	PrivateKeyPEM  string     `json:"private_key_pem" binding:"required"`
	RevokedAt      *time.Time `json:"revoked_at"`
}

// ImportCredential stores an externally issued credential for a client
// @Router /api/v1/admin/clients/{id}/credentials/import [post]
func (h *CredentialHandler) ImportCredential(c *gin.Context) {
	var req ImportCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	view, err := h.credentials.Import(c.Request.Context(), &service.ImportCredentialRequest{
		ClientID:  c.Param("id"),
		CertPEM:   []byte(req.CertificatePEM),
		KeyPEM:    []byte(req.PrivateKeyPEM),
		RevokedAt: req.RevokedAt,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to import credential", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// Revoke revokes a credential. Revoking twice keeps the first revocation time.
// @Router /api/v1/credentials/{id}/revoke [put]
func (h *CredentialHandler) Revoke(c *gin.Context) {
	view, err := h.credentials.Revoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to revoke credential", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Unrevoke clears a revocation
// @Router /api/v1/credentials/{id}/revoke [delete]
func (h *CredentialHandler) Unrevoke(c *gin.Context) {
	view, err := h.credentials.Unrevoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to unrevoke credential", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateCRL rewrites the CRL file
// @Router /api/v1/admin/crl [post]
func (h *CredentialHandler) UpdateCRL(c *gin.Context) {
	if err := h.credentials.UpdateCRL(c.Request.Context()); err != nil {
		respondError(c, h.logger, "Failed to update CRL", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "CRL updated"})
}

// DownloadConfig serves the inline .ovpn profile. ?platform=linux selects the
// Linux client base config.
// @Produce application/x-openvpn-profile
// @Router /api/v1/credentials/{id}/config [get]
func (h *CredentialHandler) DownloadConfig(c *gin.Context) {
	id := c.Param("id")
	profile, err := h.credentials.ExportConfig(c.Request.Context(), id, c.Query("platform"))
	if err != nil {
		respondError(c, h.logger, "Failed to export client config", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".ovpn"))
	c.Data(http.StatusOK, "application/x-openvpn-profile", []byte(profile))
}

// ExportRequest represents a PKCS#12 export request
type ExportRequest struct {
	Password string `json:"password" binding:"required"`
	// Legacy selects RC2/3DES encryption for older clients
	Legacy bool `json:"legacy"`
}

// ExportPKCS12 serves the credential bundled with the CA certificate
// @Accept json
// @Produce application/x-pkcs12
// @Router /api/v1/credentials/{id}/export [post]
func (h *CredentialHandler) ExportPKCS12(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	id := c.Param("id")
	pfx, err := h.credentials.ExportPKCS12(c.Request.Context(), id, req.Password, req.Legacy)
	if err != nil {
		respondError(c, h.logger, "Failed to export PKCS#12", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".p12"))
	c.Data(http.StatusOK, "application/x-pkcs12", pfx)
}
