package worker

import "context"

// Task names, also used as metric labels.
const (
	TaskExpiredSessions    = "expired_sessions"
	TaskExpiredChallenges  = "expired_challenges"
	TaskExpiredResetTokens = "expired_reset_tokens"
)

type sessionPurger interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

type challengePurger interface {
	DeleteExpiredChallenges(ctx context.Context) (int64, error)
}

type resetTokenPurger interface {
	DeleteExpiredPasswordResetTokens(ctx context.Context) (int64, error)
}

// CleanupTasks returns the janitor tasks that purge expired sessions, OTP
// challenges and password reset tokens.
func CleanupTasks(sessions sessionPurger, challenges challengePurger, tokens resetTokenPurger) []Task {
	return []Task{
		NewTask(TaskExpiredSessions, sessions.DeleteExpiredSessions),
		NewTask(TaskExpiredChallenges, challenges.DeleteExpiredChallenges),
		NewTask(TaskExpiredResetTokens, tokens.DeleteExpiredPasswordResetTokens),
	}
}
