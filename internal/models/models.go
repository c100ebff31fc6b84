package models

import "time"

type Account struct {
	ID                int64
	Email             string
	Name              string
	PassHash          []byte
	VerifiedAt        *time.Time
	PasswordChangedAt time.Time
	CreatedAt         time.Time
}

// * IsVerified сообщает, подтверждён ли email аккаунта
func (a *Account) IsVerified() bool {
	return a.VerifiedAt != nil
}

// AccountInfo is the public shape of an account, safe to return to clients.
// The password digest is never part of it.
type AccountInfo struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	VerifiedAt *time.Time `json:"email_verified_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (a *Account) Info() AccountInfo {
	return AccountInfo{
		ID:         a.ID,
		Email:      a.Email,
		Name:       a.Name,
		VerifiedAt: a.VerifiedAt,
		CreatedAt:  a.CreatedAt,
	}
}

type ResetTicket struct {
	ID        int64
	AccountID int64
	Email     string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// * IsExpired проверяет, истек ли срок действия тикета
func (t *ResetTicket) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// * IsActive проверяет, активен ли тикет (не использован и не истек)
func (t *ResetTicket) IsActive(now time.Time) bool {
	return t.UsedAt == nil && !t.IsExpired(now)
}

type Message struct {
	Email   string `json:"to"`
	Link    string `json:"link"`
	Purpose string `json:"purpose"`
}
