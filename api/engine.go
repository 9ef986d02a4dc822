package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/substitution"
)

// Directory is the read side of the modules the engine consumes: timetable,
// leave, staff and contacts. Every store package implements it.
type Directory interface {
	attendance.TimetableProvider
	attendance.LeaveProvider
	attendance.StaffDirectory
	attendance.ContactDirectory
}

// EngineConfig wires the engine to one storage backend.
type EngineConfig struct {
	Store         attendance.Store
	Substitutions substitution.Store
	RollCalls     rollcall.Store
	Directory     Directory

	Notifier     attendance.Notifier           // defaults to LogNotifier
	Consequences attendance.ConsequenceHandler // defaults to LogConsequences
	Clock        attendance.Clock
	Location     *time.Location
	// MorningCutoff is the lateness reference for period 1; nil uses the ledger default.
	MorningCutoff *attendance.TimeOfDay
}

// NewEngine builds every domain service over a single backend.
func NewEngine(cfg EngineConfig) Engine {
	if cfg.Notifier == nil {
		cfg.Notifier = attendance.LogNotifier{}
	}
	if cfg.Consequences == nil {
		cfg.Consequences = attendance.LogConsequences{}
	}
	if cfg.Clock == nil {
		cfg.Clock = attendance.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	calendar := attendance.NewCalendar(cfg.Store)
	ledger := attendance.NewLedger(attendance.LedgerConfig{
		Store:         cfg.Store,
		Timetable:     cfg.Directory,
		Calendar:      calendar,
		Clock:         cfg.Clock,
		Location:      cfg.Location,
		MorningCutoff: cfg.MorningCutoff,
	})
	return Engine{
		Ledger:    ledger,
		Calendar:  calendar,
		Detector:  attendance.NewDetector(cfg.Store, cfg.Clock),
		Evaluator: attendance.NewEvaluator(cfg.Store, cfg.Consequences),
		Alerter:   attendance.NewAbsenceAlerter(ledger, cfg.Directory, cfg.Notifier),
		Substitutions: substitution.NewResolver(substitution.Config{
			Store:     cfg.Substitutions,
			Timetable: cfg.Directory,
			Leaves:    cfg.Directory,
			Staff:     cfg.Directory,
			Clock:     cfg.Clock,
		}),
		RollCalls: rollcall.NewManager(cfg.RollCalls, cfg.Clock, cfg.Location),
		Leaves:    cfg.Directory,
	}
}
