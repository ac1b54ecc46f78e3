package middlewares

type ctxKey string

// KeyUserID is the plain-context key for the acting user, set alongside the
// gin keys so code below the HTTP layer (repos, jobs) can see who acted
// without depending on gin.
const KeyUserID ctxKey = "user_id"
