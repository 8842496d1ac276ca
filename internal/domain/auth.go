package domain

// SubjectType differentiates dashboard users from the bot service.
type SubjectType string

const (
	SubjectTypeUser    SubjectType = "USER"
	SubjectTypeService SubjectType = "SERVICE"
)

// Actor is a guild member acting on tickets, with roles resolved at request time.
type Actor struct {
	ID            string
	GuildID       string
	Username      string
	RoleIDs       []string
	Administrator bool
}
