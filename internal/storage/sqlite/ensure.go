package sqlite

import (
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/felixgeelhaar/pythonquest/internal/session"
)

// Ensure SQLite stores implement the storage interfaces.
var (
	_ session.SessionStore = (*SessionStore)(nil)
	_ progress.Recorder    = (*CompletionStore)(nil)
)
