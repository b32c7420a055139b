package flash

// Stage identifies one discrete step of a pipeline run.
//
// The four flashing stages have a fixed total order: Backup < Erase <
// Write < Verify. StageFetch is synthetic: it reports image download
// progress to the sink but is not part of the flashing stage order.
type Stage int

const (
	StageFetch Stage = iota
	StageBackup
	StageErase
	StageWrite
	StageVerify
)

func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "fetch"
	case StageBackup:
		return "backup"
	case StageErase:
		return "erase"
	case StageWrite:
		return "write"
	case StageVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// stagePlan computes the ordered stage list for a configuration.
// Skipped stages never appear; Write is always present for flashing
// configs, and a backup-only config plans exactly one Backup stage.
func stagePlan(cfg FlashConfig) []Stage {
	if cfg.BackupOnly {
		return []Stage{StageBackup}
	}
	plan := make([]Stage, 0, 4)
	if cfg.Backup {
		plan = append(plan, StageBackup)
	}
	if cfg.Erase {
		plan = append(plan, StageErase)
	}
	plan = append(plan, StageWrite)
	if cfg.Verify {
		plan = append(plan, StageVerify)
	}
	return plan
}
