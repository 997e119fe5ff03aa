package models

import (
	"log"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{}, &Role{},
		&Warehouse{}, &Location{}, &Item{}, &StockSummary{},
		&CountPlan{}, &CountJournal{}, &JournalLine{}, &CountRecord{},
		&VarianceRecord{}, &VarianceThreshold{},
		&ApprovalDecision{}, &ReconciliationTransaction{},
		&Document{},
		&EventRecord{}, &IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
