package flash

import "testing"

func TestStagePlan(t *testing.T) {
	tests := []struct {
		name string
		cfg  FlashConfig
		want []Stage
	}{
		{"everything", FlashConfig{Backup: true, Erase: true, Verify: true}, []Stage{StageBackup, StageErase, StageWrite, StageVerify}},
		{"write only", FlashConfig{}, []Stage{StageWrite}},
		{"no backup", FlashConfig{Erase: true, Verify: true}, []Stage{StageErase, StageWrite, StageVerify}},
		{"no erase", FlashConfig{Backup: true, Verify: true}, []Stage{StageBackup, StageWrite, StageVerify}},
		{"no verify", FlashConfig{Backup: true, Erase: true}, []Stage{StageBackup, StageErase, StageWrite}},
		{"backup only ignores other flags", FlashConfig{BackupOnly: true, Erase: true, Verify: true}, []Stage{StageBackup}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stagePlan(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("plan = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("plan = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestFlashConfigValidate(t *testing.T) {
	src := &fakeSource{path: "fw"}

	if err := (FlashConfig{Port: "p", Source: src}).Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := (FlashConfig{Port: "p", BackupOnly: true}).Validate(); err != nil {
		t.Errorf("backup-only config rejected: %v", err)
	}
	if err := (FlashConfig{Source: src}).Validate(); err == nil {
		t.Error("missing port accepted")
	}
	if err := (FlashConfig{Port: "p"}).Validate(); err == nil {
		t.Error("missing source accepted for a flashing config")
	}
}
