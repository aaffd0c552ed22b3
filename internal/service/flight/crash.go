package flight

import (
	"arcade-service/internal/service/game"
	"arcade-service/pkg/utils/random"
)

type CrashTable = game.CrashTable

// DrawCrashPoint draws from the default bucket table, in hundredths.
func DrawCrashPoint(src random.Source) int64 {
	return game.DefaultCrashTable.Draw(src)
}
