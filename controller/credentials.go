package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
)

// credentialRequest is the management API's create/update body, mirroring
// add_credential/update_credential in the prior implementation's
// provider_pool_service.rs.
type credentialRequest struct {
	Name          string `json:"name" binding:"required"`
	Type          string `json:"type" binding:"required"`
	CredsFilePath string `json:"creds_file_path,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	APIBaseURL    string `json:"api_base_url,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	ProxyURL      string `json:"proxy_url,omitempty"`
	CheckHealth   *bool  `json:"check_health,omitempty"`
}

// AddCredential creates a new credential (spec.md §6 "POST /management/credentials").
func (h *Handlers) AddCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, apierr.Validation(err.Error()))
		return
	}

	t, ok := channeltype.Parse(req.Type)
	if !ok {
		AbortWithError(c, http.StatusBadRequest, apierr.Validation("unknown credential type: "+req.Type))
		return
	}

	cred := &model.Credential{
		Name:        req.Name,
		Type:        t,
		CheckHealth: true,
		IsHealthy:   true,
		Source:      model.SourcePublic,
		ProxyURL:    req.ProxyURL,
	}
	if req.CheckHealth != nil {
		cred.CheckHealth = *req.CheckHealth
	}
	if err := cred.SetPayload(model.Payload{
		Kind:          req.Type,
		CredsFilePath: req.CredsFilePath,
		ProjectID:     req.ProjectID,
		APIBaseURL:    req.APIBaseURL,
		APIKey:        req.APIKey,
		BaseURL:       req.BaseURL,
	}); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	if err := h.Pool.Add(cred); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, toSummary(cred))
}

// ListCredentials lists every credential of one provider type (spec.md §6
// "GET /management/credentials/:type").
func (h *Handlers) ListCredentials(c *gin.Context) {
	t, ok := channeltype.Parse(c.Param("type"))
	if !ok {
		AbortWithError(c, http.StatusBadRequest, apierr.Validation("unknown credential type: "+c.Param("type")))
		return
	}
	creds, err := h.Pool.ListByType(t)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	summaries := make([]CredentialSummary, 0, len(creds))
	for _, cred := range creds {
		summaries = append(summaries, toSummary(cred))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": summaries})
}

// UpdateCredential updates a credential's mutable fields (spec.md §6 "PUT
// /management/credentials/:uuid").
func (h *Handlers) UpdateCredential(c *gin.Context) {
	cred, err := h.Pool.Get(c.Param("uuid"))
	if err != nil {
		AbortWithError(c, http.StatusNotFound, err)
		return
	}

	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, apierr.Validation(err.Error()))
		return
	}
	if req.Name != "" {
		cred.Name = req.Name
	}
	if req.ProxyURL != "" {
		cred.ProxyURL = req.ProxyURL
	}
	if req.CheckHealth != nil {
		cred.CheckHealth = *req.CheckHealth
	}

	payload, err := cred.Payload()
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if req.CredsFilePath != "" {
		payload.CredsFilePath = req.CredsFilePath
	}
	if req.ProjectID != "" {
		payload.ProjectID = req.ProjectID
	}
	if req.APIBaseURL != "" {
		payload.APIBaseURL = req.APIBaseURL
	}
	if req.APIKey != "" {
		payload.APIKey = req.APIKey
	}
	if req.BaseURL != "" {
		payload.BaseURL = req.BaseURL
	}
	if err := cred.SetPayload(payload); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	if err := h.Pool.Update(cred); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, toSummary(cred))
}

// DeleteCredential removes a credential (spec.md §6 "DELETE
// /management/credentials/:uuid").
func (h *Handlers) DeleteCredential(c *gin.Context) {
	if err := h.Pool.Delete(c.Param("uuid")); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleCredential enables/disables a credential (spec.md §6 "POST
// /management/credentials/:uuid/toggle").
func (h *Handlers) ToggleCredential(c *gin.Context) {
	var body struct {
		Disabled bool `json:"disabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, http.StatusBadRequest, apierr.Validation(err.Error()))
		return
	}
	if err := h.Pool.Toggle(c.Param("uuid"), body.Disabled); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetCredential clears a credential's error/usage counters and marks it
// healthy again (spec.md §6 "POST /management/credentials/:uuid/reset").
func (h *Handlers) ResetCredential(c *gin.Context) {
	if err := h.Pool.ResetCounters(c.Param("uuid")); err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}
