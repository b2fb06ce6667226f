package chat

import (
	"fmt"
	"strings"
)

// Level is a session's access level. Levels are ordered.
type Level int

const (
	LevelPlayer Level = iota
	LevelModerator
	LevelAdmin
	LevelDeveloper
)

var levelNames = map[Level]string{
	LevelPlayer:    "player",
	LevelModerator: "moderator",
	LevelAdmin:     "admin",
	LevelDeveloper: "developer",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// LevelFromInt clamps a stored access level into the known range.
func LevelFromInt(v int) Level {
	switch {
	case v < int(LevelPlayer):
		return LevelPlayer
	case v > int(LevelDeveloper):
		return LevelDeveloper
	}
	return Level(v)
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return LevelPlayer, fmt.Errorf("unknown access level %q", s)
}
