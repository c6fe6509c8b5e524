package matchmaking

// State is the lifecycle phase of a connected client.
type State string

const (
	StateIdle    State = "IDLE"
	StateInQueue State = "IN_QUEUE"
	StateInGame  State = "IN_GAME"
)

// Action is a client request that may move it through the state table.
type Action string

const (
	ActionEnqueue Action = "ENQUEUE"
	ActionDequeue Action = "DEQUEUE"
	ActionInvite  Action = "INVITE"
	ActionExit    Action = "EXIT"
)

var transitions = map[State][]State{
	StateIdle:    {StateInQueue, StateIdle},
	StateInQueue: {StateInGame, StateIdle},
	StateInGame:  {StateIdle},
}

var actions = map[State][]Action{
	StateIdle:    {ActionEnqueue, ActionInvite, ActionExit},
	StateInQueue: {ActionDequeue, ActionExit},
	StateInGame:  {ActionExit},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Allowed reports whether a client in state may issue action.
func Allowed(state State, action Action) bool {
	for _, candidate := range actions[state] {
		if candidate == action {
			return true
		}
	}
	return false
}

// GameType selects the queue and the party size.
type GameType string

const (
	GameRanked     GameType = "RANKED"
	GameTournament GameType = "TOURNAMENT"
)

// GameTypes lists the queues in scan order.
var GameTypes = []GameType{GameRanked, GameTournament}

// ParseGameType validates raw as a GameType.
func ParseGameType(raw string) (GameType, error) {
	for _, mode := range GameTypes {
		if string(mode) == raw {
			return mode, nil
		}
	}
	return "", ErrInvalidGameType
}
