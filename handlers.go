package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models/reports"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"bitbucket.org/mmdatafocus/cyclecount_backend/workflow"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("cyclecount-backend")

// statusForError maps the domain sentinels onto HTTP status codes so a
// losing claimant sees 409 while a validation slip sees 400.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyClaimed),
		errors.Is(err, models.ErrLeaseExpired),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotApproved):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrNotOwner),
		errors.Is(err, models.ErrLineNotOwnedByClaimant),
		errors.Is(err, models.ErrInsufficientAuthority):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrIncompleteLines),
		errors.Is(err, models.ErrSkipReasonRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrReconciliationIntegrity):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func respondData(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		respondData(c, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, gin.H{"logged_out": ok})
	}
}

func createBusinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBusiness
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		business, err := models.CreateBusiness(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, business)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		respondData(c, user)
	}
}

func createRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRole
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		role, err := models.CreateRole(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, role)
	}
}

func createWarehouseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewWarehouse
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		warehouse, err := models.CreateWarehouse(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, warehouse)
	}
}

func listWarehousesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouses, err := models.ListWarehouses(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, warehouses)
	}
}

func createLocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewLocation
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		location, err := models.CreateLocation(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, location)
	}
}

func listLocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouseId, err := strconv.Atoi(c.Query("warehouse_id"))
		if err != nil || warehouseId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "warehouse_id is required"})
			return
		}
		locations, err := models.ListLocationsByWarehouse(c.Request.Context(), warehouseId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, locations)
	}
}

func createItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewItem
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		item, err := models.CreateItem(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, item)
	}
}

func listItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := models.ListItems(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, items)
	}
}

func listThresholdsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		thresholds, err := models.GetVarianceThresholds(c.Request.Context(), businessId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, thresholds)
	}
}

func updateThresholdHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Threshold changes rewrite how every future count classifies, so
		// only manager-tier callers may touch them.
		if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); !ok || !isAdmin {
			respondError(c, models.ErrInsufficientAuthority)
			return
		}
		var input models.NewVarianceThreshold
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		threshold, err := models.UpdateVarianceThreshold(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, threshold)
	}
}

func createPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCountPlan
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		plan, err := models.CreateCountPlan(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, plan)
	}
}

func listPlansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		plans, err := models.ListCountPlans(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, plans)
	}
}

func getPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		plan, err := models.GetCountPlan(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, plan)
	}
}

func cancelPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		plan, err := models.CancelCountPlan(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, plan)
	}
}

func releasePlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		plan, err := workflow.ReleaseCountPlan(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, plan)
	}
}

func listPoolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filters workflow.EligibleFilters
		if err := c.ShouldBindQuery(&filters); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filters"})
			return
		}
		journals, err := workflow.ListEligibleJournals(c.Request.Context(), filters)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journals)
	}
}

func listMyJournalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		journals, err := models.ListJournalsClaimedBy(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journals)
	}
}

func listJournalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := models.ParseJournalStatus(c.Query("status"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		planId, _ := strconv.Atoi(c.Query("plan_id"))
		journals, err := models.ListJournalsByStatus(c.Request.Context(), status, planId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journals)
	}
}

func getJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		journal, err := models.GetCountJournal(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journal)
	}
}

func claimJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		result, err := workflow.ClaimJournal(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, result)
	}
}

func reassignJournalHandler() gin.HandlerFunc {
	type reassignInput struct {
		UserId int `json:"user_id" binding:"required,gt=0"`
	}
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input reassignInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		journal, err := workflow.ReassignJournal(c.Request.Context(), id, input.UserId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journal)
	}
}

func releaseJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		journal, err := workflow.ReleaseJournal(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journal)
	}
}

func renewLeaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		leaseAt, err := workflow.RenewLease(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, gin.H{"lease_expires_at": leaseAt})
	}
}

func recordCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input workflow.NewCount
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		line, err := workflow.RecordCount(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, line)
	}
}

func skipLineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input workflow.NewSkip
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "skip reason is required"})
			return
		}
		line, err := workflow.SkipLine(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, line)
	}
}

func submitJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "journal.submit")
		defer span.End()
		journal, err := workflow.SubmitJournal(ctx, id, c.GetHeader("Idempotency-Key"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journal)
	}
}

func decideJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var input workflow.NewDecision
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "journal.decide")
		defer span.End()
		journal, err := workflow.DecideJournal(ctx, id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, journal)
	}
}

func reconcileJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "journal.reconcile")
		defer span.End()
		transactions, err := workflow.ReconcileJournal(ctx, id, c.GetHeader("Idempotency-Key"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, transactions)
	}
}

func listVariancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		pass, _ := strconv.Atoi(c.DefaultQuery("pass", "0"))
		if pass <= 0 {
			journal, err := models.GetCountJournal(c.Request.Context(), id)
			if err != nil {
				respondError(c, err)
				return
			}
			pass = journal.PassNumber
		}
		records, err := models.ListVarianceRecords(c.Request.Context(), id, pass)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, records)
	}
}

func listDecisionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		decisions, err := models.ListDecisions(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, decisions)
	}
}

func listReconciliationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		transactions, err := models.ListReconciliationTransactions(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, transactions)
	}
}

func varianceSummaryReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		planId, _ := strconv.Atoi(c.Query("plan_id"))
		rows, err := reports.GetVarianceSummaryReport(c.Request.Context(), planId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, rows)
	}
}

func varianceSummaryExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		planId, _ := strconv.Atoi(c.Query("plan_id"))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=variance_summary_%s.xlsx", utils.GenerateUniqueFilename()))
		if err := reports.ExportVarianceSummaryExcel(c.Request.Context(), planId, c.Writer); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
	}
}

func countAccuracyReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouseId, _ := strconv.Atoi(c.Query("warehouse_id"))
		rows, err := reports.GetCountAccuracyReport(c.Request.Context(), warehouseId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, rows)
	}
}
