package lifecycle

import "github.com/basket/swarmctl/internal/swarm"

// Stage is the coarse classification of a history event, used for
// rendering timelines. Not persisted.
type Stage string

const (
	StageCreation     Stage = "creation"
	StageApproval     Stage = "approval"
	StageDispatch     Stage = "dispatch"
	StageReceipt      Stage = "receipt"
	StageRetry        Stage = "retry"
	StageTimeout      Stage = "timeout"
	StageResult       Stage = "result"
	StageIntervention Stage = "intervention"
	StageOther        Stage = "other"
)

var eventStages = map[string]Stage{
	EventTaskCreated:          StageCreation,
	EventApprovalRequested:    StageApproval,
	EventOverrideApproved:     StageApproval,
	EventOverrideDenied:       StageApproval,
	EventSendAttempt:          StageDispatch,
	EventSendFailed:           StageDispatch,
	EventTransportError:       StageDispatch,
	EventAck:                  StageReceipt,
	EventRetryScheduled:       StageRetry,
	EventRequeued:             StageRetry,
	EventTimeout:              StageTimeout,
	EventResultCompleted:      StageResult,
	EventResultPartial:        StageResult,
	EventResultFailed:         StageResult,
	EventOperatorReroute:      StageIntervention,
	EventOperatorDrainPause:   StageIntervention,
	EventOperatorDrainReroute: StageIntervention,
}

// StageOf classifies an event kind, falling back to StageOther for
// vocabulary this package does not know.
func StageOf(eventKind string) Stage {
	if s, ok := eventStages[eventKind]; ok {
		return s
	}
	return StageOther
}

// causes maps an effect event to its plausible cause kinds, checked in
// order of preference. BuildTimeline links each effect to the most
// recent earlier event matching one of these kinds.
var causes = map[string][]string{
	EventSendFailed:      {EventSendAttempt},
	EventAck:             {EventSendAttempt},
	EventResultCompleted: {EventAck, EventSendAttempt},
	EventResultPartial:   {EventAck, EventSendAttempt},
	EventResultFailed:    {EventAck, EventSendAttempt},
	EventTimeout:         {EventAck, EventSendAttempt},
	EventTransportError:  {EventSendFailed, EventSendAttempt},
	EventRetryScheduled:  {EventSendFailed, EventTimeout, EventSendAttempt},
	EventRequeued:        {EventRetryScheduled, EventOperatorDrainPause},
	EventSendAttempt:     {EventRequeued, EventOperatorReroute, EventOverrideApproved, EventTaskCreated},
}

// TimelineEntry is one history event with its stage and inferred cause.
type TimelineEntry struct {
	Index      int         `json:"index"`
	Stage      Stage       `json:"stage"`
	Event      swarm.Event `json:"event"`
	CauseIndex int         `json:"causeIndex"` // -1 when no cause is inferred
}

// BuildTimeline classifies a record's history and links effect events
// to their most recent plausible cause. The stored history carries no
// explicit pointers; the causal table reconstructs them.
func BuildTimeline(record swarm.TaskRecord) []TimelineEntry {
	entries := make([]TimelineEntry, len(record.History))
	for i, ev := range record.History {
		entry := TimelineEntry{
			Index:      i,
			Stage:      StageOf(ev.Event),
			Event:      ev,
			CauseIndex: -1,
		}
		if kinds, ok := causes[ev.Event]; ok {
			entry.CauseIndex = latestMatch(record.History, i, kinds)
		}
		entries[i] = entry
	}
	return entries
}

// latestMatch finds the most recent event before index whose kind is
// in kinds, preferring earlier entries of the kinds list.
func latestMatch(history []swarm.Event, before int, kinds []string) int {
	for _, kind := range kinds {
		for i := before - 1; i >= 0; i-- {
			if history[i].Event == kind {
				return i
			}
		}
	}
	return -1
}
