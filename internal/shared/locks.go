package shared

// Lock keys for operations that must never run concurrently.
const (
	LockLedgerInitialize = "ledger:initialize"
	LockLedgerSyncOrders = "ledger:sync-orders"
	LockLedgerRecompute  = "ledger:recompute-stock"
	LockLedgerNormalize  = "ledger:normalize-types"
	LockBackupRestore    = "backup:restore"
)
