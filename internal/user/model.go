package user

import "time"

type User struct {
	ID        string    `json:"id"`
	HomeID    string    `json:"home_id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Home struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	HomeName string `json:"home_name"`
}

type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	HomeID   string `json:"home_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
	Username    string `json:"username"`
	HomeID      string `json:"home_id"`
}

// Member is a user as seen by the rest of their household.
type Member struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

type HouseholdResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Members   []Member  `json:"members"`
}
