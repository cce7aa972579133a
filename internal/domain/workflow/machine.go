package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/garyjia/prior-auth/internal/domain/event"
)

// StateMachine holds an immutable transition table and executes transitions against subjects.
// It never writes state back; the caller commits Result.To.
type StateMachine[S Subject] interface {
	// Fire selects the first candidate transition whose guards all pass and runs its side effects
	Fire(ctx context.Context, subject S, action Action, actor string) (*Result, error)

	// CanFire returns true if the table declares the action for the state
	CanFire(state State, action Action) bool

	// PermittedActions returns the actions declared for the state
	PermittedActions(state State) []Action

	// Transitions returns the declared transition table
	Transitions() []Transition
}

// Result describes a transition that succeeded but has not been committed
type Result struct {
	SubjectID   string         `json:"subject_id"`
	From        State          `json:"from"`
	To          State          `json:"to"`
	Action      Action         `json:"action"`
	Actor       string         `json:"actor"`
	Timestamp   time.Time      `json:"timestamp"`
	SideEffects []string       `json:"side_effects,omitempty"`
	Events      []*event.Event `json:"-"`
}

type namedGuard[S Subject] struct {
	name string
	fn   GuardFunc[S]
}

type namedEffect[S Subject] struct {
	name string
	fn   SideEffectFunc[S]
}

type compiledTransition[S Subject] struct {
	Transition
	guards  []namedGuard[S]
	effects []namedEffect[S]
}

type selectedTransitionKey struct{}

// SelectedTransition returns the transition being executed. It is only set on the
// context passed to side effects.
func SelectedTransition(ctx context.Context) (Transition, bool) {
	t, ok := ctx.Value(selectedTransitionKey{}).(Transition)
	return t, ok
}

// stateMachine implements StateMachine
type stateMachine[S Subject] struct {
	table    map[State]map[Action][]compiledTransition[S]
	declared []Transition
	clock    clockwork.Clock
}

// Fire selects the first candidate transition whose guards all pass and runs its side effects.
// Side effects run in declaration order before the result is returned; the first failure
// aborts the transition.
func (m *stateMachine[S]) Fire(ctx context.Context, subject S, action Action, actor string) (*Result, error) {
	from := subject.CurrentState()

	candidates := m.table[from][action]
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: action %s from state %s", ErrInvalidTransition, action, from)
	}

	selected := -1
	for i, candidate := range candidates {
		if m.guardsPass(ctx, subject, candidate) {
			selected = i
			break
		}
	}
	if selected < 0 {
		return nil, fmt.Errorf("%w: action %s from state %s", ErrGuardFailed, action, from)
	}

	t := candidates[selected]
	effectCtx := context.WithValue(ctx, selectedTransitionKey{}, t.Transition)
	outbox := make([]*event.Event, 0, len(t.effects)+1)
	executed := make([]string, 0, len(t.effects))

	for _, effect := range t.effects {
		events, err := effect.fn(effectCtx, subject)
		if err != nil {
			return nil, fmt.Errorf("%w: %s during %s from %s: %w", ErrSideEffectFailed, effect.name, action, from, err)
		}
		outbox = append(outbox, events...)
		executed = append(executed, effect.name)
	}

	now := m.clock.Now()
	transitionEvent := event.NewEvent(event.TypeStateTransition, subject.SubjectID(), map[string]interface{}{
		"authorizationId": subject.SubjectID(),
		"fromState":       from.String(),
		"toState":         t.To.String(),
		"action":          action.String(),
		"actor":           actor,
	}).At(now)
	outbox = append(outbox, transitionEvent)

	return &Result{
		SubjectID:   subject.SubjectID(),
		From:        from,
		To:          t.To,
		Action:      action,
		Actor:       actor,
		Timestamp:   now,
		SideEffects: executed,
		Events:      outbox,
	}, nil
}

func (m *stateMachine[S]) guardsPass(ctx context.Context, subject S, t compiledTransition[S]) bool {
	for _, g := range t.guards {
		if !g.fn(ctx, subject) {
			return false
		}
	}
	return true
}

// CanFire returns true if the table declares the action for the state
func (m *stateMachine[S]) CanFire(state State, action Action) bool {
	return len(m.table[state][action]) > 0
}

// PermittedActions returns the actions declared for the state
func (m *stateMachine[S]) PermittedActions(state State) []Action {
	byAction, exists := m.table[state]
	if !exists {
		return []Action{}
	}

	actions := make([]Action, 0, len(byAction))
	for _, t := range m.declared {
		if t.From != state {
			continue
		}
		if len(actions) == 0 || actions[len(actions)-1] != t.Action {
			actions = append(actions, t.Action)
		}
	}

	return actions
}

// Transitions returns the declared transition table
func (m *stateMachine[S]) Transitions() []Transition {
	return append([]Transition(nil), m.declared...)
}
