package extension

import "testing"

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name          string
		file, code    Config
		wantLimit     int
		wantCost      int64
		wantNoMigrate bool
	}{
		{"defaults", Config{}, Config{}, 10, 0, false},
		{"file wins", Config{HistoryLimit: 20, ContentAnalysisCost: 4}, Config{HistoryLimit: 5, ContentAnalysisCost: 1}, 20, 4, false},
		{"code fills gaps", Config{}, Config{HistoryLimit: 5, ContentAnalysisCost: 1}, 5, 1, false},
		{"code disables migrate", Config{}, Config{DisableMigrate: true}, 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeConfigurations(tt.file, tt.code)
			if got.HistoryLimit != tt.wantLimit || got.ContentAnalysisCost != tt.wantCost || got.DisableMigrate != tt.wantNoMigrate {
				t.Errorf("merged = %+v", got)
			}
		})
	}
}

func TestBuildLedgerOpts(t *testing.T) {
	e := New(WithHistoryLimit(3), WithContentAnalysisCost(2), WithDisableMigrate())
	e.config = mergeWithDefaults(e.config)
	if got := len(e.buildLedgerOpts()); got != 3 {
		t.Errorf("options = %d, want 3", got)
	}
	if !e.config.DisableMigrate {
		t.Error("WithDisableMigrate not applied")
	}
}
