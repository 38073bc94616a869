package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"threatfusion/internal/planner"
)

// ErrDeclined is returned when the operator aborts without choosing a plan.
var ErrDeclined = errors.New("operator declined all plans")

// Offer is a pending decision handed out by a ChannelDecider.
type Offer struct {
	IncidentID string
	Plans      []planner.Plan
	reply      chan decision
}

// Select answers the offer with a plan id. Only the first answer counts.
func (o Offer) Select(planID string) {
	select {
	case o.reply <- decision{planID: planID}:
	default:
	}
}

// Decline answers the offer with an error.
func (o Offer) Decline(err error) {
	if err == nil {
		err = ErrDeclined
	}
	select {
	case o.reply <- decision{err: err}:
	default:
	}
}

// ChannelDecider publishes offers on a channel and waits for the reply sent
// through the offer. Used when the decision comes from another goroutine.
type ChannelDecider struct {
	offers chan Offer
}

func NewChannelDecider() *ChannelDecider {
	return &ChannelDecider{offers: make(chan Offer)}
}

// Offers is the channel pending decisions are delivered on.
func (d *ChannelDecider) Offers() <-chan Offer {
	return d.offers
}

func (d *ChannelDecider) Decide(ctx context.Context, incidentID string, plans []planner.Plan) (string, error) {
	offer := Offer{IncidentID: incidentID, Plans: plans, reply: make(chan decision, 1)}
	select {
	case d.offers <- offer:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-offer.reply:
		return r.planID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// PromptDecider asks an operator on a terminal. Plans are listed as numbered
// cards; the choice is entered by number or plan id and confirmed with y.
type PromptDecider struct {
	In  io.Reader
	Out io.Writer
}

func (d PromptDecider) Decide(ctx context.Context, incidentID string, plans []planner.Plan) (string, error) {
	in := bufio.NewScanner(d.In)
	out := d.Out
	if out == nil {
		out = io.Discard
	}

	fmt.Fprintln(out, RenderOffer(incidentID, plans))
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(out, "Select plan [1-%d or plan id, q to abort]: ", len(plans))
		line, ok := readLine(in)
		if !ok {
			return "", fmt.Errorf("operator input closed: %w", ErrDeclined)
		}
		if line == "q" || line == "quit" {
			return "", ErrDeclined
		}
		plan, found := choose(plans, line)
		if !found {
			fmt.Fprintf(out, "%q is not one of the offered plans.\n", line)
			continue
		}

		fmt.Fprintf(out, "Execute %s %s (%.1f%%, %s cost)? [y/N]: ", plan.PlanID, plan.PlanName, plan.EstimatedEffectiveness, plan.ResourceCost)
		answer, ok := readLine(in)
		if !ok {
			return "", fmt.Errorf("operator input closed: %w", ErrDeclined)
		}
		if answer == "y" || answer == "yes" {
			return plan.PlanID, nil
		}
	}
}

func readLine(s *bufio.Scanner) (string, bool) {
	if !s.Scan() {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(s.Text())), true
}

func choose(plans []planner.Plan, input string) (planner.Plan, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(plans) {
			return plans[n-1], true
		}
		return planner.Plan{}, false
	}
	for _, p := range plans {
		if strings.EqualFold(p.PlanID, input) {
			return p, true
		}
	}
	return planner.Plan{}, false
}
