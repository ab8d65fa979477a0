// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限区分を表す。
type Role string

const (
	RoleReader  Role = "READER"
	RoleBlogger Role = "BLOGGER"
)

// ParseRole は文字列をRoleに変換する。
// 大文字小文字・前後の空白は無視し、未知の値や空文字はREADERとして扱う。
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleBlogger:
		return RoleBlogger
	default:
		return RoleReader
	}
}

// ProviderGoogle はGoogleフェデレーションのプロバイダ名。
const ProviderGoogle = "google"

// User はブログの利用者（アイデンティティ）を表す。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string // 空文字はローカル認証情報なし（DB上はNULL）
	Role         Role
	Provider     string // 空文字はフェデレーションなし
	ProviderID   string
	Avatar       string
	Bio          string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasLocalCredential はパスワードによるログインが可能かどうかを返す。
func (u *User) HasLocalCredential() bool {
	return u.PasswordHash != ""
}

// IsFederated は外部IdPと紐付いているかどうかを返す。
func (u *User) IsFederated() bool {
	return u.Provider != "" && u.ProviderID != ""
}

// Principal は検証済みトークンから得た呼び出し元の情報。
type Principal struct {
	Email    string
	Username string
	Role     Role
	TokenID  string
}

// ProfileChanges はプロフィール更新の差分。nilのフィールドは変更しない。
type ProfileChanges struct {
	Username *string
	Avatar   *string
	Bio      *string
}

// UserSummary はAPIレスポンス用のユーザー概要。
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Avatar   string `json:"avatar"`
}

// UserProfile はログイン中ユーザー自身のプロフィール。
type UserProfile struct {
	UserSummary
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary はUserSummaryを返す。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		Avatar:   u.Avatar,
	}
}

// Profile はUserProfileを返す。
func (u *User) Profile() UserProfile {
	return UserProfile{
		UserSummary: u.Summary(),
		Bio:         u.Bio,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
