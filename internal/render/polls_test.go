package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollPostMarksAnswers(t *testing.T) {
	t.Parallel()
	rows := []PollRow{
		{Person: Person{UserID: 1, Username: "ann"}, Activity: 2, Answer: "hard"},
		{Person: Person{UserID: 2, Username: "bo"}, Activity: 1},
		{Person: Person{UserID: 3, Username: "cy"}},
	}

	tests := []struct {
		name   string
		closed bool
	}{
		{"open", false},
		{"closed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			post := PollPost(PollView{Poll: EffortPoll, Date: day, Rows: rows, Closed: tt.closed})
			assert.Contains(t, post.Text, "@ann: 🧱")
			assert.Contains(t, post.Text, "@bo: "+Unanswered)
			assert.Contains(t, post.Text, "@cy: "+Idle)
			assert.Equal(t, tt.closed, strings.Contains(post.Text, ClosedPrefix))
			assert.Equal(t, tt.closed, post.Markup == nil)
		})
	}
}

func TestParsePollAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action string
		poll   Poll
		code   string
		ok     bool
	}{
		{"effort:easy", EffortPoll, "easy", true},
		{"feeling:great", FeelingPoll, "great", true},
		{"feeling:meh", 0, "", false},
		{"mood:great", 0, "", false},
		{"plus", 0, "", false},
	}
	for _, tc := range tests {
		p, c, ok := ParsePollAction(tc.action)
		require.Equal(t, tc.ok, ok, tc.action)
		if ok {
			assert.Equal(t, tc.poll, p)
			assert.Equal(t, tc.code, c.Code)
		}
	}

	for _, p := range Polls() {
		for _, c := range p.Choices() {
			_, action, ok := strings.Cut(PollData(p, c.Code), ":")
			require.True(t, ok)
			got, gc, ok := ParsePollAction(action)
			require.True(t, ok)
			assert.Equal(t, p, got)
			assert.Equal(t, c, gc)
		}
	}
}
