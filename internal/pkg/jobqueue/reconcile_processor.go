package jobqueue

import (
	"context"
	"fmt"
)

// processReconcileEventJob replays a parked webhook event against the
// billing service. The usual cause is a checkout race: the confirming
// webhook arrived before the checkout response recorded the member's
// gateway references, so the subject resolves on a later attempt.
func (q *Queue) processReconcileEventJob(ctx context.Context, job *Job) error {
	payload, err := ReconcileEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile event payload: %w", err)
	}
	if q.retrier == nil {
		return fmt.Errorf("no event retrier configured")
	}
	return q.retrier.RetryEvent(ctx, []byte(payload.Event))
}

// processDunningNoticeJob mails a member whose renewal payment failed.
func (q *Queue) processDunningNoticeJob(job *Job) error {
	payload, err := DunningNoticeJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid dunning notice payload: %w", err)
	}
	if payload.Email == "" {
		return fmt.Errorf("dunning notice for member %d has no email", payload.MemberID)
	}
	if q.mailer == nil {
		return fmt.Errorf("no mailer configured")
	}

	subject := "Payment failed - action required"
	body := fmt.Sprintf(
		"Hi,<br><br>your latest membership payment via %s did not go through. "+
			"Please update your payment details to keep your membership active.<br><br>"+
			"The InkPress team", payload.Gateway)
	return q.mailer(payload.Email, subject, body)
}
