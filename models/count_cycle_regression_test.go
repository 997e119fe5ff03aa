package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"bitbucket.org/mmdatafocus/cyclecount_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Full cycle: plan -> release -> claim -> count -> submit -> approve ->
// reconcile, with the contested-claim and tier-authority edges exercised
// along the way.
func TestCountCycleEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cyclecount_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	biz, err := models.CreateBusiness(ctx, models.NewBusiness{
		Name:  "Cycle Co",
		Email: "owner@cycle.test",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessId := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	var roles []*models.Role
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).Find(&roles).Error; err != nil {
		t.Fatalf("load default roles: %v", err)
	}
	roleByTier := map[models.ApprovalTier]int{}
	for _, role := range roles {
		roleByTier[role.Tier] = role.ID
	}

	counterA := mustCreateUser(t, ctx, businessId, "counter.a", roleByTier[models.TierOperator])
	counterB := mustCreateUser(t, ctx, businessId, "counter.b", roleByTier[models.TierOperator])
	lead := mustCreateUser(t, ctx, businessId, "lead.one", roleByTier[models.TierLead])
	supervisor := mustCreateUser(t, ctx, businessId, "supervisor.one", roleByTier[models.TierSupervisor])

	warehouse, err := models.CreateWarehouse(ctx, models.NewWarehouse{Name: "DC", Code: "DC1"})
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}
	location, err := models.CreateLocation(ctx, models.NewLocation{
		WarehouseId: warehouse.ID, Code: "A-01-01", Zone: "A",
	})
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	locationBlocked, err := models.CreateLocation(ctx, models.NewLocation{
		WarehouseId: warehouse.ID, Code: "A-01-02", Zone: "A",
	})
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}

	itemExact, err := models.CreateItem(ctx, models.NewItem{
		Sku: "SKU-1", Name: "Exact Item", CostPrice: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	itemShort, err := models.CreateItem(ctx, models.NewItem{
		Sku: "SKU-2", Name: "Short Item", CostPrice: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	now := time.Now().UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.UpsertStockQty(ctx, tx, businessId, itemExact.ID, location.ID, decimal.NewFromInt(40), now); err != nil {
			return err
		}
		if err := models.UpsertStockQty(ctx, tx, businessId, itemShort.ID, location.ID, decimal.NewFromInt(100), now); err != nil {
			return err
		}
		return models.UpsertStockQty(ctx, tx, businessId, itemExact.ID, locationBlocked.ID, decimal.NewFromInt(15), now)
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	plan, err := models.CreateCountPlan(ctx, models.NewCountPlan{
		Name:          "Zone A weekly",
		WarehouseId:   warehouse.ID,
		SelectionMode: models.PlanSelectionModeLocation,
		Selector:      models.PlanSelector{LocationIds: []int{location.ID, locationBlocked.ID}},
	})
	if err != nil {
		t.Fatalf("CreateCountPlan: %v", err)
	}

	plan, err = workflow.ReleaseCountPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ReleaseCountPlan: %v", err)
	}
	if plan.Status != models.PlanStatusReleased {
		t.Fatalf("plan status = %s, want Released", plan.Status)
	}

	journals, err := models.ListJournalsByStatus(ctx, models.JournalStatusPending, plan.ID)
	if err != nil {
		t.Fatalf("ListJournalsByStatus: %v", err)
	}
	if len(journals) != 2 {
		t.Fatalf("expected 2 journals for 2 locations, got %d", len(journals))
	}
	var journal, journalBlocked *models.CountJournal
	for _, j := range journals {
		switch j.LocationId {
		case location.ID:
			journal = j
		case locationBlocked.ID:
			journalBlocked = j
		}
	}
	if journal == nil || journalBlocked == nil {
		t.Fatal("journals missing expected locations")
	}
	if len(journal.Lines) == 0 {
		full, err := models.GetCountJournal(ctx, journal.ID)
		if err != nil {
			t.Fatalf("GetCountJournal: %v", err)
		}
		journal = full
	}
	if len(journal.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(journal.Lines))
	}

	ctxA := actorContext(ctx, counterA, models.TierOperator)
	ctxB := actorContext(ctx, counterB, models.TierOperator)

	if _, err := workflow.ClaimJournal(ctxA, journal.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := workflow.ClaimJournal(ctxB, journal.ID); !errors.Is(err, models.ErrAlreadyClaimed) {
		t.Fatalf("second claim error = %v, want ErrAlreadyClaimed", err)
	}

	var lineExact, lineShort *models.JournalLine
	for i := range journal.Lines {
		line := &journal.Lines[i]
		switch line.ItemId {
		case itemExact.ID:
			lineExact = line
		case itemShort.ID:
			lineShort = line
		}
	}
	if lineExact == nil || lineShort == nil {
		t.Fatal("lines missing expected items")
	}
	if !lineExact.ExpectedQty.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected qty snapshot = %s, want 40", lineExact.ExpectedQty)
	}

	// Counting on someone else's claim must be refused.
	if _, err := workflow.RecordCount(ctxB, lineExact.ID, workflow.NewCount{Qty: decimal.NewFromInt(40)}); !errors.Is(err, models.ErrLineNotOwnedByClaimant) {
		t.Fatalf("foreign count error = %v, want ErrLineNotOwnedByClaimant", err)
	}

	// Premature submit with unresolved lines must be refused.
	if _, err := workflow.RecordCount(ctxA, lineExact.ID, workflow.NewCount{Qty: decimal.NewFromInt(40)}); err != nil {
		t.Fatalf("record exact count: %v", err)
	}
	if _, err := workflow.SubmitJournal(ctxA, journal.ID, ""); !errors.Is(err, models.ErrIncompleteLines) {
		t.Fatalf("premature submit error = %v, want ErrIncompleteLines", err)
	}

	// Thirty percent short: Major severity, supervisor required. The submit
	// carries the scanner's request key; the same key is reused on the
	// second journal below and must not swallow that submit.
	if _, err := workflow.RecordCount(ctxA, lineShort.ID, workflow.NewCount{Qty: decimal.NewFromInt(70)}); err != nil {
		t.Fatalf("record short count: %v", err)
	}
	submitted, err := workflow.SubmitJournal(ctxA, journal.ID, "scanner-7")
	if err != nil {
		t.Fatalf("SubmitJournal: %v", err)
	}
	if submitted.WorstSeverity != models.VarianceSeverityMajor {
		t.Fatalf("worst severity = %s, want Major", submitted.WorstSeverity)
	}
	if submitted.RequiredTier != models.TierSupervisor {
		t.Fatalf("required tier = %s, want Supervisor", submitted.RequiredTier)
	}

	// Lead lacks the authority for a Major journal.
	ctxLead := actorContext(ctx, lead, models.TierLead)
	if _, err := workflow.DecideJournal(ctxLead, journal.ID, workflow.NewDecision{Action: models.ApprovalActionApprove}); !errors.Is(err, models.ErrInsufficientAuthority) {
		t.Fatalf("lead approve error = %v, want ErrInsufficientAuthority", err)
	}

	// Escalate routes, it never transitions.
	escalated, err := workflow.DecideJournal(ctxLead, journal.ID, workflow.NewDecision{Action: models.ApprovalActionEscalate, Reason: "above my tier"})
	if err != nil {
		t.Fatalf("lead escalate: %v", err)
	}
	if escalated.Status != models.JournalStatusSubmitted {
		t.Fatalf("journal status after escalate = %s, want Submitted", escalated.Status)
	}

	// Supervisor sends only the short line back for a recount.
	ctxSup := actorContext(ctx, supervisor, models.TierSupervisor)
	rejected, err := workflow.DecideJournal(ctxSup, journal.ID, workflow.NewDecision{
		Action: models.ApprovalActionReject, LineIds: []int{lineShort.ID}, Reason: "recount the shortfall",
	})
	if err != nil {
		t.Fatalf("supervisor reject: %v", err)
	}
	if rejected.Status != models.JournalStatusRejected {
		t.Fatalf("journal status = %s, want Rejected", rejected.Status)
	}
	if rejected.PassNumber != 2 {
		t.Fatalf("pass number = %d, want 2", rejected.PassNumber)
	}

	// A rejected journal is back in the pool; the recount claimant may only
	// touch the recount lines, the accepted line is frozen.
	if _, err := workflow.ClaimJournal(ctxB, journal.ID); err != nil {
		t.Fatalf("recount claim: %v", err)
	}
	if _, err := workflow.RecordCount(ctxB, lineExact.ID, workflow.NewCount{Qty: decimal.NewFromInt(41)}); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("accepted-line overwrite error = %v, want ErrInvalidTransition", err)
	}
	if _, err := workflow.RecordCount(ctxB, lineShort.ID, workflow.NewCount{Qty: decimal.NewFromInt(70)}); err != nil {
		t.Fatalf("recount short line: %v", err)
	}
	resubmitted, err := workflow.SubmitJournal(ctxB, journal.ID, "")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.WorstSeverity != models.VarianceSeverityMajor {
		t.Fatalf("recount worst severity = %s, want Major", resubmitted.WorstSeverity)
	}

	approved, err := workflow.DecideJournal(ctxSup, journal.ID, workflow.NewDecision{Action: models.ApprovalActionApprove, Reason: "verified recount photos"})
	if err != nil {
		t.Fatalf("supervisor approve: %v", err)
	}
	if approved.Status != models.JournalStatusApproved {
		t.Fatalf("journal status = %s, want Approved", approved.Status)
	}

	batch, err := workflow.ReconcileJournal(ctxSup, journal.ID, "")
	if err != nil {
		t.Fatalf("ReconcileJournal: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 reconciliation transactions, got %d", len(batch))
	}

	qty, err := models.GetStockQty(ctx, db, businessId, itemShort.ID, location.ID)
	if err != nil {
		t.Fatalf("GetStockQty: %v", err)
	}
	if !qty.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("stock after reconcile = %s, want 70", qty)
	}

	// Reconciling again returns the existing batch without touching stock.
	again, err := workflow.ReconcileJournal(ctxSup, journal.ID, "")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("second reconcile returned %d transactions, want 2", len(again))
	}
	qty, err = models.GetStockQty(ctx, db, businessId, itemShort.ID, location.ID)
	if err != nil {
		t.Fatalf("GetStockQty after rerun: %v", err)
	}
	if !qty.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("stock drifted on idempotent rerun: %s", qty)
	}

	// Second journal: the bin is blocked, so the pass resolves entirely by
	// skips and still submits. The request key matches the first journal's
	// submit on purpose; keys are scoped per journal.
	if _, err := workflow.ClaimJournal(ctxA, journalBlocked.ID); err != nil {
		t.Fatalf("claim blocked-bin journal: %v", err)
	}
	blockedFull, err := models.GetCountJournal(ctx, journalBlocked.ID)
	if err != nil {
		t.Fatalf("GetCountJournal blocked: %v", err)
	}
	if len(blockedFull.Lines) != 1 {
		t.Fatalf("expected 1 line in blocked-bin journal, got %d", len(blockedFull.Lines))
	}
	if _, err := workflow.SkipLine(ctxA, blockedFull.Lines[0].ID, workflow.NewSkip{Reason: "bin blocked by pallet"}); err != nil {
		t.Fatalf("skip line: %v", err)
	}
	skippedSubmit, err := workflow.SubmitJournal(ctxA, journalBlocked.ID, "scanner-7")
	if err != nil {
		t.Fatalf("submit skip-only journal: %v", err)
	}
	if skippedSubmit.Status != models.JournalStatusSubmitted {
		t.Fatalf("skip-only journal status = %s, want Submitted", skippedSubmit.Status)
	}
	if skippedSubmit.WorstSeverity != models.VarianceSeverityNone {
		t.Fatalf("skip-only worst severity = %s, want None", skippedSubmit.WorstSeverity)
	}
	if skippedSubmit.RequiredTier != models.TierLead {
		t.Fatalf("skip-only required tier = %s, want Lead", skippedSubmit.RequiredTier)
	}

	if _, err := workflow.DecideJournal(ctxLead, journalBlocked.ID, workflow.NewDecision{Action: models.ApprovalActionApprove, Reason: "skip reasons reviewed"}); err != nil {
		t.Fatalf("lead approve skip-only journal: %v", err)
	}
	blockedBatch, err := workflow.ReconcileJournal(ctxLead, journalBlocked.ID, "")
	if err != nil {
		t.Fatalf("reconcile skip-only journal: %v", err)
	}
	if len(blockedBatch) != 0 {
		t.Fatalf("skip-only reconcile wrote %d transactions, want 0", len(blockedBatch))
	}
	qty, err = models.GetStockQty(ctx, db, businessId, itemExact.ID, locationBlocked.ID)
	if err != nil {
		t.Fatalf("GetStockQty blocked bin: %v", err)
	}
	if !qty.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("blocked-bin stock changed on skip-only reconcile: %s", qty)
	}

	finalPlan, err := models.GetCountPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetCountPlan: %v", err)
	}
	if finalPlan.Status != models.PlanStatusCompleted {
		t.Fatalf("plan status = %s, want Completed", finalPlan.Status)
	}

	// Outbox rows exist for the lifecycle events; the dispatcher publishes
	// them after commit, which is out of scope here.
	var outboxCount int64
	if err := db.WithContext(ctx).Model(&models.EventRecord{}).
		Where("business_id = ? AND journal_id = ?", businessId, journal.ID).
		Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if outboxCount < 4 {
		t.Fatalf("expected at least 4 outbox events (created/claimed/submitted/approved/reconciled), got %d", outboxCount)
	}
}

func mustCreateUser(t *testing.T, ctx context.Context, businessId, username string, roleId int) *models.User {
	t.Helper()
	user, err := models.CreateUser(ctx, models.NewUser{
		BusinessId: businessId,
		Username:   username,
		Name:       username,
		Password:   "Password@1",
		RoleId:     roleId,
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", username, err)
	}
	return user
}

func actorContext(ctx context.Context, user *models.User, tier models.ApprovalTier) context.Context {
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetRoleTierInContext(ctx, int(tier))
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cyclecount-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cyclecount-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=cyclecount_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
