package domain

import "testing"

func validUser() *User {
	return &User{ID: "u1", Email: "a@example.com", PasswordHash: "hash", Role: "user", Status: UserStatusActive}
}

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*User)
		wantErr bool
	}{
		{"valid", func(*User) {}, false},
		{"admin", func(u *User) { u.Role = "admin" }, false},
		{"missing id", func(u *User) { u.ID = "" }, true},
		{"missing email", func(u *User) { u.Email = "" }, true},
		{"missing hash", func(u *User) { u.PasswordHash = "" }, true},
		{"bad role", func(u *User) { u.Role = "owner" }, true},
		{"bad status", func(u *User) { u.Status = "pending" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validUser()
			tt.mutate(u)
			if err := u.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUser_IsActive(t *testing.T) {
	u := validUser()
	if !u.IsActive() {
		t.Error("active user reported inactive")
	}
	u.Status = UserStatusDisabled
	if u.IsActive() {
		t.Error("disabled user reported active")
	}
}
