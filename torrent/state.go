package torrent

import "fmt"

// State of a torrent. Values are stable and may be stored or sent over the wire.
type State int

// Torrent states.
const (
	QueuedChecking State = iota
	CheckingExistingData
	DownloadingMetadata
	Downloading
	Finished
	Seeding
	Allocating
	CheckingResumeData
	Error
)

var stateNames = [...]string{
	"queued for checking",
	"checking",
	"downloading metadata",
	"downloading",
	"finished",
	"seeding",
	"allocating",
	"checking resume data",
	"error",
}

// Valid returns true if s is one of the defined states.
func (s State) Valid() bool {
	return s >= 0 && int(s) < len(stateNames)
}

// String returns the human readable name of the state, "unknown" for invalid values.
func (s State) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return stateNames[s]
}

// ParseState returns the State for the name returned by State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown torrent state: %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid torrent state: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// checking returns true while the torrent data is being opened or hashed.
func (s State) checking() bool {
	switch s {
	case Allocating, CheckingExistingData, CheckingResumeData:
		return true
	}
	return false
}

// complete returns true if all pieces are verified.
func (s State) complete() bool {
	return s == Finished || s == Seeding
}
