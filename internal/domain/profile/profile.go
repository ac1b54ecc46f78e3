package profile

import "time"

// Role-scoped profile rows attached 1:1 to a user. Created inside the same
// transaction as the user row during sign-up so a failed profile insert never
// leaves an orphaned account.

type TutorProfile struct {
	UserID     string    `json:"userId"`
	Bio        string    `json:"bio,omitempty"`
	HourlyRate float64   `json:"hourlyRate,omitempty"`
	Subjects   []string  `json:"subjects,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type ParentProfile struct {
	UserID            string    `json:"userId"`
	PreferredSubjects []string  `json:"preferredSubjects,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type ChildProfile struct {
	UserID     string    `json:"userId"`
	GradeLevel string    `json:"gradeLevel,omitempty"`
	ParentID   *string   `json:"parentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UpdateTutorProfileRequest carries the mutable tutor fields. Nil means
// "leave unchanged".
type UpdateTutorProfileRequest struct {
	Bio        *string  `json:"bio"`
	HourlyRate *float64 `json:"hourlyRate" binding:"omitempty,gt=0"`
	Subjects   []string `json:"subjects"`
}
