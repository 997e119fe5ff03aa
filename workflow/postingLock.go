package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireJournalLock serializes submit, approval folding and reconciliation
// per journal across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the state-changing transaction.
func AcquireJournalLock(tx *gorm.DB, businessId string, journalId int) error {
	lockName := fmt.Sprintf("journal:%s:%d", businessId, journalId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire journal lock for business_id=%s journal_id=%d", businessId, journalId)
	}
	return nil
}

func ReleaseJournalLock(tx *gorm.DB, businessId string, journalId int) {
	lockName := fmt.Sprintf("journal:%s:%d", businessId, journalId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
