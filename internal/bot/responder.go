// Package bot holds the rule-based responder that answers canned
// questions about the bus rental service. The chat service treats it as a
// black box: text in, optional reply out.
package bot

import "strings"

// Responder maps inbound client text to an optional canned reply.
// ok is false when the responder cannot confidently answer; the caller is
// then responsible for offering escalation to a human agent.
type Responder interface {
	Respond(text string) (reply string, ok bool)
}

// rule pairs trigger keywords with a canned answer. The first rule with
// any keyword present in the (lowercased) input wins.
type rule struct {
	keywords []string
	answer   string
}

// KeywordResponder is the default rule set for the bus rental business.
type KeywordResponder struct {
	rules []rule
}

// NewKeywordResponder builds the stock rule set: booking, pricing, fleet,
// cancellation and contact questions.
func NewKeywordResponder() *KeywordResponder {
	return &KeywordResponder{
		rules: []rule{
			{
				keywords: []string{"book", "reserve", "reservation", "rent"},
				answer: "To book a bus, choose your travel dates and passenger count, then call our booking line or use the reservation form on our website. " +
					"A 20% deposit confirms your booking and the balance is due 7 days before departure.",
			},
			{
				keywords: []string{"price", "pricing", "cost", "rate", "fee", "how much"},
				answer: "Our rates depend on bus type, distance and rental duration. Minibuses start at $150/day, standard coaches at $300/day and luxury coaches at $450/day. " +
					"Multi-day rentals get a 10% discount.",
			},
			{
				keywords: []string{"type", "types", "fleet", "vehicle", "bus do you", "buses do you", "kinds of"},
				answer: "We offer 15-seat minibuses, 35-seat midi coaches, 50-seat standard coaches and 48-seat luxury coaches with restrooms and Wi-Fi. " +
					"All vehicles are air-conditioned and regularly inspected.",
			},
			{
				keywords: []string{"cancel", "cancellation", "refund"},
				answer: "You can cancel free of charge up to 14 days before departure. Cancellations within 14 days forfeit the deposit; within 48 hours the full amount is charged. " +
					"To cancel, reply here with your booking reference or call customer service.",
			},
			{
				keywords: []string{"contact", "phone", "email", "reach", "customer service", "support"},
				answer: "You can reach our customer service team at 1-800-BUS-RENT or support@busrental.example, Monday to Saturday 8am-8pm. " +
					"You can also ask here to be connected with an agent.",
			},
			{
				keywords: []string{"hello", "hi ", "hey"},
				answer:   "Hello! Ask me about booking, pricing, our fleet, cancellations or how to contact us.",
			},
		},
	}
}

// Respond returns the canned answer for the first matching rule, or
// ok=false when nothing matches.
func (r *KeywordResponder) Respond(text string) (string, bool) {
	normalized := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	for _, rule := range r.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.answer, true
			}
		}
	}
	return "", false
}
