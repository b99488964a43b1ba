package triage

import (
	"strings"

	"github.com/mailroute/mailroute/pkg/event"
)

// Sender local-parts that mark machine-generated mail.
var automatedSenders = []string{
	"no-reply",
	"noreply",
	"donotreply",
	"do-not-reply",
	"mailer-daemon",
	"postmaster",
	"bounce",
	"notifications",
}

// Subject markers for bulk mail.
var newsletterMarkers = []string{
	"unsubscribe",
	"newsletter",
	"weekly digest",
	"daily digest",
}

// classifyByHeuristics handles the cases that do not need a reasoning call.
// It only returns a decision when the signal is unambiguous; everything else
// goes to the model.
func classifyByHeuristics(ev *event.InboundEvent) (*Decision, bool) {
	sender := strings.ToLower(ev.Sender)
	for _, marker := range automatedSenders {
		if strings.Contains(sender, marker) {
			return heuristicSkip(ev, CategoryAutomated, "automated sender address: "+marker), true
		}
	}

	subject := strings.ToLower(ev.Subject)
	body := strings.ToLower(ev.Body)
	for _, marker := range newsletterMarkers {
		if strings.Contains(subject, marker) || strings.Contains(body, marker) {
			return heuristicSkip(ev, CategoryNewsletter, "bulk mail marker: "+marker), true
		}
	}

	return nil, false
}

func heuristicSkip(ev *event.InboundEvent, category Category, reason string) *Decision {
	return &Decision{
		ShouldProcess: false,
		Confidence:    0.95,
		Category:      category,
		Priority:      PriorityLow,
		Reasoning:     reason,
		Extracted: Extracted{
			Sender:         ev.Sender,
			Subject:        ev.Subject,
			Sentiment:      SentimentNeutral,
			HasAttachments: ev.HasAttachments(),
		},
	}
}
