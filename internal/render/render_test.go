package render

import (
	"strings"
	"testing"

	"checkinbot/internal/clock"
)

var day = clock.Date{Year: 2024, Month: 6, Day: 1}

func TestDailyPostOrdersAndMarks(t *testing.T) {
	t.Parallel()
	post := DailyPost(DailyView{
		Date:     day,
		RemindAt: clock.TimeOfDay{Hour: 22},
		Participants: []Participant{
			{Person: Person{UserID: 1, Username: "ann"}, Activity: 1},
			{Person: Person{UserID: 2, FirstName: "Bo"}, Activity: 3, Streak: 4},
			{Person: Person{UserID: 3, Username: "idle"}},
			{Person: Person{UserID: 4, Username: "later"}, Remind: true},
		},
	})

	if post.Markup == nil {
		t.Fatal("open post must carry a keyboard")
	}
	if strings.Contains(post.Text, "@idle") {
		t.Fatalf("idle user listed:\n%s", post.Text)
	}
	bo := strings.Index(post.Text, "tg://user?id=2")
	ann := strings.Index(post.Text, "@ann")
	if bo < 0 || ann < 0 || bo > ann {
		t.Fatalf("most active must come first:\n%s", post.Text)
	}
	if !strings.Contains(post.Text, "🔥4") || !strings.Contains(post.Text, "⏳") {
		t.Fatalf("streak or remind marker missing:\n%s", post.Text)
	}
}

func TestClosedPostHasPrefixAndNoKeyboard(t *testing.T) {
	t.Parallel()
	post := DailyPost(DailyView{Date: day, Closed: true})
	if !strings.Contains(post.Text, ClosedPrefix) {
		t.Fatalf("missing closed prefix:\n%s", post.Text)
	}
	if post.Markup != nil {
		t.Fatal("closed post must not carry a keyboard")
	}
	if post.Options().Markup != nil {
		t.Fatal("Options must carry an untyped nil markup")
	}
}

func TestDailyPostIsStable(t *testing.T) {
	t.Parallel()
	v := DailyView{Date: day, Participants: []Participant{{Person: Person{UserID: 9}, Activity: 5}}}
	if DailyPost(v).Text != DailyPost(v).Text {
		t.Fatal("rendering the same view twice differs")
	}
}

func TestAchievementBands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		count int
		want  []string
	}{
		{0, nil},
		{1, achievementBands[0].titles},
		{3, achievementBands[1].titles},
		{5, achievementBands[2].titles},
		{7, achievementBands[3].titles},
		{10, achievementBands[4].titles},
		{11, nil},
	}
	for _, tt := range tests {
		got := Achievement(42, day, tt.count)
		if tt.want == nil {
			if got != "" {
				t.Fatalf("count %d: got %q, want none", tt.count, got)
			}
			continue
		}
		found := false
		for _, w := range tt.want {
			found = found || w == got
		}
		if !found {
			t.Fatalf("count %d: %q not in %v", tt.count, got, tt.want)
		}
	}
}

func TestNoticesEmptyWhenNothingToSay(t *testing.T) {
	t.Parallel()
	if EndOfDay(clock.TimeOfDay{Hour: 22}, nil) != "" || LastCall(nil) != "" ||
		PeriodSummary(day, day, nil) != "" || Anniversary(0, day, 3) != "" || Milestones(nil) != "" {
		t.Fatal("empty input must render empty text")
	}
}

func TestEndOfDayShowsStatus(t *testing.T) {
	t.Parallel()
	got := EndOfDay(clock.TimeOfDay{Hour: 22}, []ReminderRow{
		{Person: Person{UserID: 1, Username: "a"}, Activity: 2},
		{Person: Person{UserID: 2, Username: "b"}},
	})
	if !strings.Contains(got, "22:00") || !strings.Contains(got, "@a ✅ (2)") || !strings.Contains(got, "@b ❓ (0)") {
		t.Fatalf("unexpected text:\n%s", got)
	}
}

func TestPersonName(t *testing.T) {
	t.Parallel()
	if got := (Person{UserID: 7}).Name(); got != "User7" {
		t.Fatalf("Name = %q", got)
	}
	if got := (Person{FirstName: "A", LastName: "B"}).Name(); got != "A B" {
		t.Fatalf("Name = %q", got)
	}
}
