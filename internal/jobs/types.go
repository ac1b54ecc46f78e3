package jobs

type JobType string

const (
	JobSendPasswordReset JobType = "auth.password_reset_email"
	JobSendWelcome       JobType = "auth.welcome_email"
)

// check to see if the job type is a known constant

func (t JobType) IsValid() bool {
	switch t {
	case JobSendPasswordReset, JobSendWelcome:
		return true
	default:
		return false
	}
}
