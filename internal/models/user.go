package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleResponder Role = "responder"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleResponder, RoleAdmin:
		return true
	}
	return false
}

type Specialization string

const (
	SpecializationNone     Specialization = ""
	SpecializationFire     Specialization = "fire"
	SpecializationMedical  Specialization = "medical"
	SpecializationPolice   Specialization = "police"
	SpecializationDisaster Specialization = "disaster"
)

func (s Specialization) Valid() bool {
	switch s {
	case SpecializationFire, SpecializationMedical, SpecializationPolice, SpecializationDisaster:
		return true
	}
	return false
}

// Actor - вызывающая сторона, как ее определил внешний сервис идентификации
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// User - запись справочника пользователей; ответственные - пользователи с ролью responder.
// Доступность и координаты меняет только сам ответственный.
type User struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone,omitempty"`
	Role           Role           `json:"role"`
	Specialization Specialization `json:"specialization,omitempty"`
	IsAvailable    bool           `json:"is_available"`
	Location       *Point         `json:"location,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// UserSummary - денормализованная карточка пользователя в проекции инцидента
type UserSummary struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone,omitempty"`
	Specialization Specialization `json:"specialization,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		Specialization: u.Specialization,
	}
}
