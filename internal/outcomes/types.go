package outcomes

import "time"

type Outcome struct {
	ID        int       `json:"id"`
	GoalText  string    `json:"goal_text"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Reflection struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}
