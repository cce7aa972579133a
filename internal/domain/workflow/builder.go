package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/garyjia/prior-auth/internal/domain/event"
)

// Subject is the entity a state machine moves between states
type Subject interface {
	SubjectID() string
	CurrentState() State
}

// GuardFunc is a named predicate gating a transition
type GuardFunc[S Subject] func(ctx context.Context, subject S) bool

// SideEffectFunc runs as part of a selected transition. Returned events form
// the transition's outbox; a returned error aborts the transition.
type SideEffectFunc[S Subject] func(ctx context.Context, subject S) ([]*event.Event, error)

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder[S Subject] interface {
	// Guard registers a named guard predicate
	Guard(name string, fn GuardFunc[S]) StateMachineBuilder[S]

	// SideEffect registers a named side effect
	SideEffect(name string, fn SideEffectFunc[S]) StateMachineBuilder[S]

	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build resolves every guard and side-effect name and freezes the transition table
	Build(opts ...MachineOption) (StateMachine[S], error)
}

// StateConfiguration configures transitions for a specific state.
// Candidates sharing an action are tried in declaration order.
type StateConfiguration interface {
	// Permit allows an action to transition to the target state unconditionally
	Permit(action Action, toState State, effects ...string) StateConfiguration

	// PermitIf allows an action to transition to the target state when every named guard passes
	PermitIf(action Action, toState State, guards []string, effects ...string) StateConfiguration
}

// Transition is one declared row of the transition table
type Transition struct {
	From    State    `json:"from"`
	Action  Action   `json:"action"`
	To      State    `json:"to"`
	Guards  []string `json:"guards,omitempty"`
	Effects []string `json:"effects,omitempty"`
}

// MachineOption configures a built state machine
type MachineOption func(*machineOptions)

type machineOptions struct {
	clock clockwork.Clock
}

// WithClock sets the clock used to timestamp transitions
func WithClock(clock clockwork.Clock) MachineOption {
	return func(o *machineOptions) {
		o.clock = clock
	}
}

// stateConfig implements StateConfiguration
type stateConfig struct {
	fromState   State
	transitions map[Action][]Transition
}

// stateMachineBuilder implements StateMachineBuilder
type stateMachineBuilder[S Subject] struct {
	configurations map[State]*stateConfig
	guards         map[string]GuardFunc[S]
	effects        map[string]SideEffectFunc[S]
}

// NewBuilder creates a new state machine builder
func NewBuilder[S Subject]() StateMachineBuilder[S] {
	return &stateMachineBuilder[S]{
		configurations: make(map[State]*stateConfig),
		guards:         make(map[string]GuardFunc[S]),
		effects:        make(map[string]SideEffectFunc[S]),
	}
}

// Guard registers a named guard predicate
func (b *stateMachineBuilder[S]) Guard(name string, fn GuardFunc[S]) StateMachineBuilder[S] {
	if name == "" || fn == nil {
		panic("guard requires a name and a function")
	}
	b.guards[name] = fn
	return b
}

// SideEffect registers a named side effect
func (b *stateMachineBuilder[S]) SideEffect(name string, fn SideEffectFunc[S]) StateMachineBuilder[S] {
	if name == "" || fn == nil {
		panic("side effect requires a name and a function")
	}
	b.effects[name] = fn
	return b
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder[S]) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(map[Action][]Transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Build resolves every guard and side-effect name and freezes the transition table
func (b *stateMachineBuilder[S]) Build(opts ...MachineOption) (StateMachine[S], error) {
	options := machineOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&options)
	}

	var errs error
	table := make(map[State]map[Action][]compiledTransition[S], len(b.configurations))
	declared := make([]Transition, 0)

	for state, config := range b.configurations {
		byAction := make(map[Action][]compiledTransition[S], len(config.transitions))
		for action, candidates := range config.transitions {
			compiled := make([]compiledTransition[S], 0, len(candidates))
			for _, t := range candidates {
				ct := compiledTransition[S]{Transition: t}
				for _, name := range t.Guards {
					fn, ok := b.guards[name]
					if !ok {
						errs = multierr.Append(errs, fmt.Errorf("%w: guard %q on %s/%s", ErrUnknownReference, name, state, action))
						continue
					}
					ct.guards = append(ct.guards, namedGuard[S]{name: name, fn: fn})
				}
				for _, name := range t.Effects {
					fn, ok := b.effects[name]
					if !ok {
						errs = multierr.Append(errs, fmt.Errorf("%w: side effect %q on %s/%s", ErrUnknownReference, name, state, action))
						continue
					}
					ct.effects = append(ct.effects, namedEffect[S]{name: name, fn: fn})
				}
				compiled = append(compiled, ct)
				declared = append(declared, t)
			}
			byAction[action] = compiled
		}
		table[state] = byAction
	}

	if errs != nil {
		return nil, errs
	}

	sort.SliceStable(declared, func(i, j int) bool {
		if declared[i].From != declared[j].From {
			return declared[i].From < declared[j].From
		}
		return declared[i].Action < declared[j].Action
	})

	return &stateMachine[S]{
		table:    table,
		declared: declared,
		clock:    options.clock,
	}, nil
}

// Permit allows an action to transition to the target state unconditionally
func (c *stateConfig) Permit(action Action, toState State, effects ...string) StateConfiguration {
	return c.PermitIf(action, toState, nil, effects...)
}

// PermitIf allows an action to transition to the target state when every named guard passes
func (c *stateConfig) PermitIf(action Action, toState State, guards []string, effects ...string) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	if !action.IsValid() {
		panic(fmt.Sprintf("invalid action: %s", action))
	}

	c.transitions[action] = append(c.transitions[action], Transition{
		From:    c.fromState,
		Action:  action,
		To:      toState,
		Guards:  append([]string(nil), guards...),
		Effects: append([]string(nil), effects...),
	})

	return c
}
