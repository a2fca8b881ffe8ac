package domain

import "testing"

func TestDefaultRole(t *testing.T) {
	tests := []struct {
		aff       Affiliation
		moderated bool
		want      Role
	}{
		{AffiliationOwner, false, RoleModerator},
		{AffiliationOwner, true, RoleModerator},
		{AffiliationAdmin, true, RoleModerator},
		{AffiliationMember, false, RoleParticipant},
		{AffiliationMember, true, RoleVisitor},
		{AffiliationNone, false, RoleParticipant},
		{AffiliationNone, true, RoleVisitor},
		{AffiliationOutcast, false, RoleNone},
	}
	for _, tt := range tests {
		if got := DefaultRole(tt.aff, tt.moderated); got != tt.want {
			t.Errorf("DefaultRole(%s, %v) = %s, want %s", tt.aff, tt.moderated, got, tt.want)
		}
	}
}

func TestEffectiveRoleVoice(t *testing.T) {
	if got := EffectiveRole(AffiliationMember, true, true); got != RoleParticipant {
		t.Errorf("voiced member in moderated room = %s", got)
	}
	if got := EffectiveRole(AffiliationOutcast, false, true); got != RoleNone {
		t.Errorf("voice must not admit outcasts, got %s", got)
	}
}

func TestValidateNick(t *testing.T) {
	long := make([]byte, MaxNickLen+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name string
		nick string
		ok   bool
	}{
		{"plain", "alice", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"too long", string(long), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateNick(tt.nick); (err == nil) != tt.ok {
				t.Errorf("ValidateNick(%q) = %v", tt.nick, err)
			}
		})
	}
}
