package delivery

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"
)

// Trigger moves an attempt between states
type Trigger string

const (
	TriggerProcess Trigger = "process"
	TriggerSucceed Trigger = "succeed"
	TriggerFail    Trigger = "fail"
	TriggerRetry   Trigger = "retry"
	TriggerCancel  Trigger = "cancel"
)

// newMachine builds the attempt lifecycle starting at initial. Terminal states
// have no configuration, so every trigger fired there is rejected.
func newMachine(initial State) *stateless.StateMachine {
	machine := stateless.NewStateMachine(initial)

	machine.Configure(StatePending).
		Permit(TriggerProcess, StateProcessing).
		Permit(TriggerCancel, StateCancelled)

	machine.Configure(StateRetryScheduled).
		Permit(TriggerProcess, StateProcessing).
		Permit(TriggerCancel, StateCancelled)

	machine.Configure(StateProcessing).
		Permit(TriggerSucceed, StateSuccess).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerRetry, StateRetryScheduled)

	return machine
}

// transition fires trigger on the attempt's current state and stores the result
func transition(ctx context.Context, a *Attempt, trigger Trigger) error {
	machine := newMachine(a.State)
	if err := machine.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("transition %s -> %s failed for attempt '%s': %w", a.State, trigger, a.ID, err)
	}
	a.State = machine.MustState().(State)
	return nil
}

// CanTransition reports whether trigger is permitted from state
func CanTransition(state State, trigger Trigger) bool {
	ok, err := newMachine(state).CanFire(trigger)
	return err == nil && ok
}
