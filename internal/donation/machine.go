// Package donation owns a donation's progression through the collection
// pipeline and its append-only history trail.
package donation

import (
	"time"

	"bloodlink/internal/utils"
	"bloodlink/pkg/types"
)

const (
	ActionPledged       = "Donation pledged"
	ActionLabPassed     = "Lab tests passed"
	ActionLabFailed     = "Lab tests failed"
	ActionUsedOnPatient = "Blood used on patient"
	ActionAddedToStock  = "Added to inventory"
)

// Outcome is the terminal result of a donation for one organization type.
type Outcome struct {
	Status      types.DonationStatus
	Action      string
	CreatesUnit bool
	// RequiredStage is the stage a donation must have reached before this
	// outcome may be applied; empty means completed or later.
	RequiredStage types.DonationStage
}

// TerminalOutcomes maps the owning organization's type to the donation's
// terminal outcome. Types missing from the table have no defined outcome.
var TerminalOutcomes = map[types.OrganizationType]Outcome{
	types.OrganizationTypeHospital: {
		Status: types.DonationStatusUsed,
		Action: ActionUsedOnPatient,
	},
	types.OrganizationTypeBank: {
		Status:        types.DonationStatusStored,
		Action:        ActionAddedToStock,
		CreatesUnit:   true,
		RequiredStage: types.DonationStageReadyStorage,
	},
	types.OrganizationTypeBoth: {
		Status:        types.DonationStatusStored,
		Action:        ActionAddedToStock,
		CreatesUnit:   true,
		RequiredStage: types.DonationStageReadyStorage,
	},
}

// Event describes who performed a transition and when.
type Event struct {
	By     string
	At     time.Time
	Action string
	Notes  string
}

// NextStage returns the stage that follows s, if any.
func NextStage(s types.DonationStage) (types.DonationStage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(types.DonationStages) {
		return "", false
	}
	return types.DonationStages[i+1], true
}

// Advance moves d exactly one stage forward to `to` and appends the matching
// history entry. Skipping, repeating, or moving backwards is rejected, as is
// any stage change once the donation is terminal.
func Advance(d *types.Donation, to types.DonationStage, ev Event) (types.DonationHistoryEntry, error) {
	const op = "donation.Advance"

	if d.Status.Terminal() {
		return types.DonationHistoryEntry{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s is %s; its stage can no longer change", d.ID, d.Status)
	}

	next, ok := NextStage(d.Stage)
	if !ok {
		return types.DonationHistoryEntry{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s is at final stage %s", d.ID, d.Stage)
	}
	if to != next {
		return types.DonationHistoryEntry{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s cannot move from %s to %s; next stage is %s", d.ID, d.Stage, to, next)
	}

	action := ev.Action
	if action == "" {
		action = "Stage advanced to " + string(to)
	}

	d.Stage = to
	return appendEntry(d, action, ev), nil
}

// RecordLab stores a lab result. A pass on a donation at completed or
// ready-storage moves its status from active to completed.
func RecordLab(d *types.Donation, passed bool, ev Event) (types.DonationHistoryEntry, error) {
	const op = "donation.RecordLab"

	if d.Status != types.DonationStatusActive {
		return types.DonationHistoryEntry{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s is %s; lab results are only recorded while active", d.ID, d.Status)
	}
	if d.Stage != types.DonationStageCompleted && d.Stage != types.DonationStageReadyStorage {
		return types.DonationHistoryEntry{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s is at %s; lab results need the completed stage", d.ID, d.Stage)
	}

	d.AllTestsPassed = utils.BoolPtr(passed)
	d.TestedAt = utils.TimePtr(ev.At)

	action := ActionLabFailed
	if passed {
		d.Status = types.DonationStatusCompleted
		action = ActionLabPassed
	}
	if ev.Action != "" {
		action = ev.Action
	}

	return appendEntry(d, action, ev), nil
}

// ResolveOutcome checks that d may be finalized by an organization of the
// given type and returns the outcome to apply.
func ResolveOutcome(d *types.Donation, orgType types.OrganizationType) (Outcome, error) {
	const op = "donation.Finalize"

	if d.Status != types.DonationStatusCompleted {
		return Outcome{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s is %s; only completed donations can be finalized", d.ID, d.Status)
	}

	outcome, ok := TerminalOutcomes[orgType]
	if !ok {
		return Outcome{}, types.NewError(types.KindReferentialIntegrity, op,
			"organization %s of donation %s has unknown type %q", d.OrganizationID, d.ID, orgType)
	}

	if outcome.RequiredStage != "" && d.Stage != outcome.RequiredStage {
		return Outcome{}, types.NewError(types.KindInvalidStateTransition, op,
			"donation %s is at %s; %s needs %s", d.ID, d.Stage, outcome.Status, outcome.RequiredStage)
	}

	return outcome, nil
}

// Finalize applies the terminal outcome for orgType and appends its single
// history entry.
func Finalize(d *types.Donation, orgType types.OrganizationType, ev Event) (Outcome, types.DonationHistoryEntry, error) {
	outcome, err := ResolveOutcome(d, orgType)
	if err != nil {
		return Outcome{}, types.DonationHistoryEntry{}, err
	}

	d.Status = outcome.Status
	return outcome, appendEntry(d, outcome.Action, ev), nil
}

// CollectedAt returns when the donor actually gave blood: the first history
// entry at the completed stage or later, then the lab time, then fallback.
func CollectedAt(d *types.Donation, fallback time.Time) time.Time {
	completed := types.DonationStageCompleted.Index()
	for _, entry := range d.History {
		if entry.Stage.Index() >= completed && !entry.PerformedAt.IsZero() {
			return entry.PerformedAt
		}
	}
	if d.TestedAt != nil {
		return *d.TestedAt
	}
	return fallback
}

func appendEntry(d *types.Donation, action string, ev Event) types.DonationHistoryEntry {
	entry := types.DonationHistoryEntry{
		DonationID:  d.ID,
		Stage:       d.Stage,
		Action:      action,
		PerformedBy: ev.By,
		PerformedAt: ev.At,
		Notes:       utils.OptionalString(ev.Notes),
		Position:    len(d.History),
	}
	d.History = append(d.History, entry)
	return entry
}
