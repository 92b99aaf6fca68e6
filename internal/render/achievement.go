package render

import (
	"hash/fnv"
	"strconv"

	"checkinbot/internal/clock"
)

type achievementBand struct {
	lo, hi int
	titles []string
}

var achievementBands = []achievementBand{
	{1, 1, []string{"Off the mark", "Warm-up", "First in"}},
	{2, 3, []string{"Steady", "On schedule", "Regular"}},
	{4, 5, []string{"Turbo mode", "Engine warm", "On a roll"}},
	{6, 7, []string{"Conveyor belt", "Unstoppable", "Combo"}},
	{8, 10, []string{"Legend", "Portal open", "Giga mode"}},
}

// Achievement picks a title for count. The pick is stable for a user and
// day so re-rendering never changes it.
func Achievement(userID int64, day clock.Date, count int) string {
	for _, b := range achievementBands {
		if count < b.lo || count > b.hi {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(strconv.FormatInt(userID, 10) + "|" + day.String() + "|" + strconv.Itoa(b.lo)))
		return b.titles[int(h.Sum32()%uint32(len(b.titles)))]
	}
	return ""
}
