package streak

import (
	"context"
	"fmt"

	"checkinbot/internal/clock"
	"checkinbot/internal/storage"
	logx "checkinbot/pkg/logx"
)

// Records is the storage surface the calculator works on. Callers pass a
// transaction-scoped store.
type Records interface {
	ListStreaks(ctx context.Context, chatID int64) (map[int64]storage.Streak, error)
	PutStreak(ctx context.Context, st storage.Streak) error
	ActiveDays(ctx context.Context, chatID int64) (map[int64][]clock.Date, error)
}

type Calculator struct {
	log logx.Logger
}

func NewCalculator(log logx.Logger) *Calculator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Calculator{log: log.With(logx.String("comp", "streak"))}
}

func toRecord(st storage.Streak) Record {
	return Record{Current: st.Current, Best: st.Best, Last: st.LastDate}
}

func fromRecord(chatID, userID int64, r Record) storage.Streak {
	return storage.Streak{ChatID: chatID, UserID: userID, Current: r.Current, Best: r.Best, LastDate: r.Last}
}

// CommitDay folds the closed day into every known streak of chatID.
// activity maps user id to that day's counter; users absent from it count
// as inactive.
func (c *Calculator) CommitDay(ctx context.Context, rs Records, chatID int64, day clock.Date, activity map[int64]int) error {
	streaks, err := rs.ListStreaks(ctx, chatID)
	if err != nil {
		return err
	}
	for uid := range activity {
		if _, ok := streaks[uid]; !ok {
			streaks[uid] = storage.Streak{ChatID: chatID, UserID: uid}
		}
	}
	for uid, st := range streaks {
		before := toRecord(st)
		after := Advance(before, day, activity[uid] > 0)
		if after == before {
			continue
		}
		if err := rs.PutStreak(ctx, fromRecord(chatID, uid, after)); err != nil {
			return fmt.Errorf("commit streak user %d: %w", uid, err)
		}
	}
	return nil
}

// Repair rebuilds every streak of chatID from history as of today and
// returns how many records changed. Running it twice is a no-op.
func (c *Calculator) Repair(ctx context.Context, rs Records, chatID int64, today clock.Date) (int, error) {
	days, err := rs.ActiveDays(ctx, chatID)
	if err != nil {
		return 0, err
	}
	streaks, err := rs.ListStreaks(ctx, chatID)
	if err != nil {
		return 0, err
	}
	for uid := range days {
		if _, ok := streaks[uid]; !ok {
			streaks[uid] = storage.Streak{ChatID: chatID, UserID: uid}
		}
	}

	changed := 0
	for uid, st := range streaks {
		want := Recompute(days[uid], today)
		if want == toRecord(st) {
			continue
		}
		c.log.Debug("streak drift repaired",
			logx.Int64("chat_id", chatID),
			logx.Int64("user_id", uid),
			logx.Int("stored", st.Current),
			logx.Int("recomputed", want.Current),
		)
		if err := rs.PutStreak(ctx, fromRecord(chatID, uid, want)); err != nil {
			return changed, fmt.Errorf("repair streak user %d: %w", uid, err)
		}
		changed++
	}
	return changed, nil
}
