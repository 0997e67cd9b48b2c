package orkestra

import (
	"io"
	"log/slog"
)

// nopLogger discards everything. Used as the default when a caller does
// not supply a *slog.Logger to Spawn.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
