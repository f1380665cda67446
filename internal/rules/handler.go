package rules

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"verdict/internal/logger"
	"verdict/pkg/errors"
	"verdict/pkg/logging"
)

type Handler struct {
	Service Service
	Logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// RegisterRoutes wires the authoring and evaluation surface. The
// authoring group may additionally carry a rate limiter; see app wiring.
func (h *Handler) RegisterRoutes(router *gin.Engine, extra ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/rules", extra...)
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.POST("/test", h.TestRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.POST("/:id/toggle", h.ToggleRule)
			rules.POST("/:id/rollback", h.RollbackRule)
			rules.POST("/:id/override", h.ReportOverride)
			rules.GET("/:id/versions", h.GetVersionHistory)
			rules.GET("/:id/audit", h.GetRuleAuditLogs)
		}

		v1.POST("/evaluate", h.Evaluate)
		v1.GET("/fields", h.ListFields)

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

// ListRules godoc
// @Summary      List rules
// @Description  Get all rules, optionally filtered by type and active flag
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        type    query     string  false  "Rule type"
// @Param        active  query     bool    false  "Active flag"
// @Success      200  {array}   Rule
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	filter := ListFilter{Type: RuleType(c.Query("type"))}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.Validation("active must be true or false")))
			return
		}
		filter.Active = &active
	}

	rules, err := h.Service.ListRules(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule godoc
// @Summary      Create a rule
// @Description  Create a new rule at version 1
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateRuleRequest  true  "Rule definition"
// @Success      201   {object}  Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get a rule by ID
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(h.withRuleID(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a rule
// @Description  Update a rule; expected_version must match the current version
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        rule  body      UpdateRuleRequest  true  "Fields to change"
// @Success      200   {object}  Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.UpdateRule(h.withRuleID(c), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete a rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(h.withRuleID(c), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ToggleRule godoc
// @Summary      Toggle a rule's active flag
// @Description  Flip is_active without bumping the version
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id}/toggle [post]
func (h *Handler) ToggleRule(c *gin.Context) {
	rule, err := h.Service.ToggleRule(h.withRuleID(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// RollbackRule godoc
// @Summary      Roll a rule back to an earlier version
// @Description  Copies the target version's definition forward as a new version
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Rule ID"
// @Param        request  body      RollbackRequest  true  "Target version"
// @Success      200      {object}  Rule
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      409      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /rules/{id}/rollback [post]
func (h *Handler) RollbackRule(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.RollbackRule(h.withRuleID(c), c.Param("id"), req.TargetVersion)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// ReportOverride godoc
// @Summary      Report a manual override of a rule's outcome
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id}/override [post]
func (h *Handler) ReportOverride(c *gin.Context) {
	if err := h.Service.ReportOverride(h.withRuleID(c), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetVersionHistory godoc
// @Summary      Get a rule's version history
// @Description  Versions are returned newest first
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   RuleVersion
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id}/versions [get]
func (h *Handler) GetVersionHistory(c *gin.Context) {
	versions, err := h.Service.GetVersionHistory(h.withRuleID(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, versions)
}

// GetRuleAuditLogs godoc
// @Summary      Get audit logs for one rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id     path      string  true   "Rule ID"
// @Param        limit  query     int     false  "Max entries"
// @Success      200    {array}   AuditEntry
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /rules/{id}/audit [get]
func (h *Handler) GetRuleAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := h.Service.GetAuditLogs(h.withRuleID(c), c.Param("id"), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// GetAuditLogs godoc
// @Summary      Get audit logs across all rules
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        rule_id  query     string  false  "Filter by rule ID"
// @Param        limit    query     int     false  "Max entries"
// @Success      200      {array}   AuditEntry
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := h.Service.GetAuditLogs(c.Request.Context(), c.Query("rule_id"), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// TestRule godoc
// @Summary      Test a rule definition against a sample record
// @Description  Dry run; touches no counters and ignores the active flag
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        request  body      TestRuleRequest  true  "Rule and record"
// @Success      200      {object}  TestResult
// @Failure      400      {object}  errors.ErrorResponse
// @Router       /rules/test [post]
func (h *Handler) TestRule(c *gin.Context) {
	var req TestRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.Service.TestRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Evaluate godoc
// @Summary      Evaluate a record against the active rule set
// @Description  Returns matched rule IDs in priority order with their actions
// @Tags         evaluation
// @Accept       json
// @Produce      json
// @Param        request  body      EvaluateRequest  true  "Record to evaluate"
// @Success      200      {object}  Decision
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /evaluate [post]
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	decision, err := h.Service.Evaluate(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// ListFields godoc
// @Summary      List the fields rules may reference
// @Tags         fields
// @Accept       json
// @Produce      json
// @Success      200  {array}  catalog.Field
// @Router       /fields [get]
func (h *Handler) ListFields(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Fields(c.Request.Context()))
}

// withRuleID tags the request context so every log line downstream
// carries the rule ID.
func (h *Handler) withRuleID(c *gin.Context) context.Context {
	return logging.WithRuleID(c.Request.Context(), c.Param("id"))
}
