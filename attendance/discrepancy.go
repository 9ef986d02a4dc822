package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

// =============================================================================
// DISCREPANCY DETECTOR - Present for the day, absent from a period
// =============================================================================

// Detector finds students marked present for the day who are absent from one
// or more of that day's periods, flags those period records and opens one
// discrepancy per student and day.
//
// Running it twice for the same date creates nothing new: an existing
// discrepancy for (student, date, type), resolved or not, suppresses the
// insert. Flagging is not a status change and writes no audit entry.
type Detector struct {
	store Store
	clock Clock
}

func NewDetector(store Store, clock Clock) *Detector {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Detector{store: store, clock: clock}
}

// RunDiscrepancyCheck returns the number of discrepancies created.
// A failure on one student is logged and does not stop the run.
func (d *Detector) RunDiscrepancyCheck(ctx context.Context, date Date) (int, error) {
	daily, err := d.store.ListDailyByDate(ctx, date, KindStudent)
	if err != nil {
		return 0, fmt.Errorf("failed to list daily records: %w", err)
	}

	created := 0
	for _, rec := range daily {
		if rec.Status != StatusPresent {
			continue
		}
		ok, err := d.checkStudent(ctx, rec.SubjectID, date)
		if err != nil {
			log.Printf("[Discrepancy] Error checking %s on %s: %v", rec.SubjectID, date, err)
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		log.Printf("[Discrepancy] %s: %d discrepancies created", date, created)
	}
	return created, nil
}

func (d *Detector) checkStudent(ctx context.Context, studentID SubjectID, date Date) (bool, error) {
	created := false
	err := d.store.WithTx(ctx, func(tx Store) error {
		periods, err := tx.ListPeriodByStudent(ctx, studentID, DateRange{From: date, To: date})
		if err != nil {
			return err
		}

		var slots []string
		for _, p := range periods {
			if p.Status != StatusAbsent {
				continue
			}
			slots = append(slots, string(p.SlotID))
			if p.SuspicionFlag == SuspicionSkippingAfterInterval {
				continue
			}
			flagged := p
			flagged.SuspicionFlag = SuspicionSkippingAfterInterval
			flagged.Version = p.Version + 1
			flagged.UpdatedAt = d.clock.Now().UTC()
			if err := tx.UpdatePeriod(ctx, flagged, p.Version); err != nil {
				return err
			}
		}
		if len(slots) == 0 {
			return nil
		}

		exists, err := tx.DiscrepancyExists(ctx, studentID, date, DiscrepancyPresentButMissingPeriod)
		if err != nil || exists {
			return err
		}
		sort.Strings(slots)
		err = tx.InsertDiscrepancy(ctx, Discrepancy{
			ID:        DiscrepancyID(newID()),
			StudentID: studentID,
			Date:      date,
			Type:      DiscrepancyPresentButMissingPeriod,
			Details:   "marked present but absent from periods: " + strings.Join(slots, ", "),
			Severity:  SeverityHigh,
			CreatedAt: d.clock.Now().UTC(),
		})
		if errors.Is(err, ErrConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// ListDiscrepancies returns discrepancies detected for date.
func (d *Detector) ListDiscrepancies(ctx context.Context, date Date) ([]Discrepancy, error) {
	return d.store.ListDiscrepancies(ctx, date)
}

// ResolveDiscrepancy marks a discrepancy as handled. Resolving twice is a conflict.
func (d *Detector) ResolveDiscrepancy(ctx context.Context, id DiscrepancyID, resolvedBy string) (Discrepancy, error) {
	if resolvedBy == "" {
		return Discrepancy{}, invalid("resolved_by", "required")
	}
	var out Discrepancy
	err := d.store.WithTx(ctx, func(tx Store) error {
		disc, err := tx.GetDiscrepancy(ctx, id)
		if err != nil {
			return err
		}
		if disc.IsResolved {
			return fmt.Errorf("%w: discrepancy %s already resolved by %s", ErrConflict, id, disc.ResolvedBy)
		}
		if err := tx.ResolveDiscrepancy(ctx, id, resolvedBy); err != nil {
			return err
		}
		out = *disc
		out.IsResolved = true
		out.ResolvedBy = resolvedBy
		return nil
	})
	if err != nil {
		return Discrepancy{}, err
	}
	return out, nil
}
