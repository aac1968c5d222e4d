package pipeline

import "fmt"

// Kind is the closed set of inbound requests the endpoint understands.
type Kind int

const (
	FetchCommittees Kind = iota
	FetchMeetingPlan
	SubmitCommitteeCase
	SubmitBriefingCase
	SubmitDelegatedDecision

	kindCount
)

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	switch k {
	case FetchCommittees:
		return "fetch-committees"
	case FetchMeetingPlan:
		return "fetch-meeting-plan"
	case SubmitCommitteeCase:
		return "submit-committee-case"
	case SubmitBriefingCase:
		return "submit-briefing-case"
	case SubmitDelegatedDecision:
		return "submit-delegated-decision"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Shape is how a kind turns a request into a reply.
type Shape int

const (
	// ShapeStatic replies with a fixed type and no attachment.
	ShapeStatic Shape = iota
	// ShapeValidated validates the payload and replies with a receipt.
	ShapeValidated
	// ShapeChained validates the payload, then the local result it answers with.
	ShapeChained
	// ShapeResult ignores the payload and answers with a validated local result.
	ShapeResult
)

func (s Shape) String() string {
	switch s {
	case ShapeStatic:
		return "static"
	case ShapeValidated:
		return "validated"
	case ShapeChained:
		return "chained"
	case ShapeResult:
		return "result"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Shape panics for values outside the declared kinds.
func (k Kind) Shape() Shape {
	switch k {
	case FetchCommittees:
		return ShapeResult
	case FetchMeetingPlan:
		return ShapeChained
	case SubmitCommitteeCase, SubmitBriefingCase:
		return ShapeValidated
	case SubmitDelegatedDecision:
		return ShapeStatic
	}
	panic(fmt.Sprintf("pipeline: unknown kind %d", int(k)))
}

func (k Kind) valid() bool { return k >= 0 && k < kindCount }

func (s Shape) needsSchema() bool { return s == ShapeValidated || s == ShapeChained }
func (s Shape) needsResult() bool { return s == ShapeChained || s == ShapeResult }
