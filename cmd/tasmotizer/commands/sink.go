package commands

import (
	"fmt"

	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
)

// consoleSink renders stage events as terminal progress lines. Events
// arrive in emission order on a single goroutine, so no locking is
// needed.
type consoleSink struct {
	lastPercent int
	lastStage   flash.Stage
}

func newConsoleSink() *consoleSink {
	return &consoleSink{lastPercent: -1}
}

func (s *consoleSink) OnStageEvent(ev flash.StageEvent) {
	switch ev.Type {
	case flash.EventStarted:
		s.lastPercent = -1
		s.lastStage = ev.Stage
		fmt.Printf("==> %s\n", ev.Stage)
	case flash.EventProgress:
		if ev.Indeterminate {
			fmt.Printf("    %s...\n", ev.Stage)
			return
		}
		// Same percent can arrive from separate output lines; print once.
		if ev.Stage == s.lastStage && ev.Percent == s.lastPercent {
			return
		}
		s.lastStage = ev.Stage
		s.lastPercent = ev.Percent
		fmt.Printf("    %s %d%%\n", ev.Stage, ev.Percent)
	case flash.EventLog:
		fmt.Printf("    %s\n", ev.Line)
	case flash.EventFinished:
		fmt.Printf("==> %s done\n", ev.Stage)
	case flash.EventFailed:
		fmt.Printf("==> %s failed: %v\n", ev.Stage, ev.Err)
	case flash.EventAborted:
		fmt.Printf("==> %s aborted\n", ev.Stage)
	}
}
