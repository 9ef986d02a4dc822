package attendance

import (
	"context"
	"fmt"
	"log"
)

// AbsenceAlerter notifies the contact of every absentee on a date.
type AbsenceAlerter struct {
	ledger   *Ledger
	contacts ContactDirectory
	notifier Notifier
}

func NewAbsenceAlerter(ledger *Ledger, contacts ContactDirectory, notifier Notifier) *AbsenceAlerter {
	return &AbsenceAlerter{ledger: ledger, contacts: contacts, notifier: notifier}
}

// Notify sends one alert per absentee. A failed lookup or send is logged and
// counted in failed; it does not stop the remaining alerts.
func (a *AbsenceAlerter) Notify(ctx context.Context, date Date, kind SubjectKind) (sent, failed int, err error) {
	absent, err := a.ledger.Absentees(ctx, date, kind)
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range absent {
		email, err := a.contacts.ContactEmail(ctx, rec.SubjectID, rec.SubjectKind)
		if err != nil || email == "" {
			log.Printf("[Alerts] No contact for %s %s: %v", rec.SubjectKind, rec.SubjectID, err)
			failed++
			continue
		}
		subject := fmt.Sprintf("Absence on %s", date)
		body := fmt.Sprintf("%s %s was marked absent on %s.", rec.SubjectKind, rec.SubjectID, date)
		if rec.Remarks != "" {
			body += " Remarks: " + rec.Remarks
		}
		if err := a.notifier.Send(ctx, email, subject, body); err != nil {
			log.Printf("[Alerts] Send to %s failed: %v", email, err)
			failed++
			continue
		}
		sent++
	}
	return sent, failed, nil
}

// LogNotifier writes alerts to the standard logger instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, email, subject, body string) error {
	log.Printf("[Alerts] to=%s subject=%q body=%q", email, subject, body)
	return nil
}

// LogConsequences records triggered policies on the standard logger.
type LogConsequences struct{}

func (LogConsequences) Apply(_ context.Context, subjectID SubjectID, kind SubjectKind, t Triggered) error {
	log.Printf("[Policy] %s %s triggered %s (%s=%d >= %d): %s %s",
		kind, subjectID, t.Policy.ID, t.Policy.RuleType, t.Count, t.Policy.Threshold,
		t.Policy.ConsequenceType, t.Policy.ConsequenceValue)
	return nil
}
