package domain

import "testing"

func TestJobStateTransitions(t *testing.T) {
	states := []JobState{JobStateQueued, JobStateRunning, JobStateCompleted, JobStateFailed}
	legal := map[JobState][]JobState{
		JobStateQueued:  {JobStateRunning},
		JobStateRunning: {JobStateCompleted, JobStateFailed},
	}

	for _, from := range states {
		for _, to := range states {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		name   string
		states []JobState
		want   SessionStatus
	}{
		{
			name:   "all queued",
			states: []JobState{JobStateQueued, JobStateQueued},
			want:   SessionStatusProcessing,
		},
		{
			name:   "one running",
			states: []JobState{JobStateCompleted, JobStateRunning},
			want:   SessionStatusProcessing,
		},
		{
			name:   "all completed",
			states: []JobState{JobStateCompleted, JobStateCompleted},
			want:   SessionStatusCompleted,
		},
		{
			name:   "partial failure still completed",
			states: []JobState{JobStateCompleted, JobStateFailed},
			want:   SessionStatusCompleted,
		},
		{
			name:   "all failed",
			states: []JobState{JobStateFailed, JobStateFailed},
			want:   SessionStatusFailed,
		},
		{
			name:   "single failed",
			states: []JobState{JobStateFailed},
			want:   SessionStatusFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := Session{}
			for _, state := range tc.states {
				session.Jobs = append(session.Jobs, Job{State: state})
			}
			if got := session.Status(); got != tc.want {
				t.Fatalf("Status() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSessionProgress(t *testing.T) {
	session := Session{Jobs: []Job{
		{State: JobStateCompleted},
		{State: JobStateFailed},
		{State: JobStateRunning},
		{State: JobStateQueued},
	}}
	done, total := session.Progress()
	if done != 2 || total != 4 {
		t.Fatalf("Progress() = (%d, %d), want (2, 4)", done, total)
	}
}
